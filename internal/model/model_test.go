package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryDisplayName(t *testing.T) {
	assert.Equal(t, "Dragon lore", Entry{UID: 3, Comment: "Dragon lore", Key: []string{"dragon"}}.DisplayName())
	assert.Equal(t, "dragon", Entry{UID: 3, Key: []string{"", "dragon"}}.DisplayName())
	assert.Equal(t, "Entry #3", Entry{UID: 3}.DisplayName())
}

func TestEntryHasKeys(t *testing.T) {
	assert.False(t, Entry{Key: []string{""}}.HasKeys())
	assert.True(t, Entry{KeySecondary: []string{"x"}}.HasKeys())
}

func TestPositionFromIndex(t *testing.T) {
	assert.Equal(t, PositionBefore, PositionFromIndex(0))
	assert.Equal(t, PositionAtDepth, PositionFromIndex(4))
	assert.Equal(t, PositionOutlet, PositionFromIndex(7))
	assert.Equal(t, PositionBefore, PositionFromIndex(42))
	assert.True(t, Entry{Position: PositionFromIndex(4)}.IsDepthInjected())
}

func TestLevelFromLoop(t *testing.T) {
	assert.Equal(t, 0, LevelFromLoop(0))
	assert.Equal(t, 0, LevelFromLoop(1))
	assert.Equal(t, 2, LevelFromLoop(3))
}

func TestReasonSpecificity(t *testing.T) {
	assert.Greater(t, ReasonDecorator.Specificity(), ReasonConstant.Specificity())
	assert.Greater(t, ReasonPrimaryKeyMatch.Specificity(), ReasonSecondaryAndAll.Specificity())
	assert.Greater(t, ReasonKeyMatch.Specificity(), ReasonActivated.Specificity())
	assert.Equal(t, 0, Reason("bogus").Specificity())
}

func itemization() *Itemization {
	return &Itemization{
		Tokenizer:         "estimate",
		Sections:          []Section{{Tag: "MAIN", Tokens: 3}, {Tag: "CHAT_HISTORY", Tokens: 5}},
		TotalMarkedTokens: 8,
	}
}

func TestValidate(t *testing.T) {
	it := itemization()
	require.NoError(t, it.Validate())

	it.TotalMarkedTokens = 9
	assert.True(t, errors.Is(it.Validate(), ErrTotalMismatch))

	it = itemization()
	it.Sections[0].Tokens = -1
	it.TotalMarkedTokens = 4
	assert.Error(t, it.Validate())
}

func TestApplyTokensAndRestore(t *testing.T) {
	it := itemization()
	assert.False(t, it.Overridden())

	require.NoError(t, it.ApplyTokens([]int{1, 1}, "words"))
	assert.True(t, it.Overridden())
	assert.Equal(t, 2, it.TotalMarkedTokens)
	assert.Equal(t, "estimate", it.OriginalTokenizer)
	require.NoError(t, it.Validate())

	// A second override keeps the first originals.
	require.NoError(t, it.ApplyTokens([]int{4, 4}, "chars"))
	assert.Equal(t, 8, *it.OriginalTotal)
	assert.Equal(t, 3, *it.Sections[0].OriginalTokens)

	it.Restore()
	assert.Equal(t, itemization(), it)

	// Restore without an override is a no-op.
	it.Restore()
	assert.Equal(t, itemization(), it)
}

func TestApplyTokensLengthMismatch(t *testing.T) {
	it := itemization()
	assert.Error(t, it.ApplyTokens([]int{1}, "words"))
	assert.False(t, it.Overridden())
}

func TestWorldInfoSections(t *testing.T) {
	it := &Itemization{Sections: []Section{{Tag: "MAIN"}, {Tag: "WI_BEFORE", IsWorldInfo: true}}}
	assert.Len(t, it.WorldInfoSections(), 1)
}
