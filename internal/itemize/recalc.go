package itemize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/tokenizer"
)

// Recalculate recounts every section of it with counter. Selecting the
// tokenizer the itemization was built with restores the original counts.
// On error it is left untouched.
func Recalculate(ctx context.Context, it *model.Itemization, counter tokenizer.Counter) error {
	if it == nil || counter == nil {
		return nil
	}
	name := counter.Name()
	if it.Overridden() && name == it.OriginalTokenizer {
		it.Restore()
		return nil
	}
	if !it.Overridden() && name == it.Tokenizer {
		return nil
	}

	texts := make([]string, len(it.Sections))
	for i, s := range it.Sections {
		texts[i] = s.Content
	}
	counts, applied, err := countNamed(ctx, counter, texts, DefaultConcurrency, zap.NewNop())
	if err != nil {
		return fmt.Errorf("recalculate with %s: %w", name, err)
	}
	return it.ApplyTokens(counts, applied)
}
