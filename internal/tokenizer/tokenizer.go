// Package tokenizer provides pluggable token counters for itemization.
package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCharsPerToken is the ratio used when no tokenizer is available.
const DefaultCharsPerToken = 3.35

// PartialSuffix marks a tokenizer name when some counts came from the estimate.
const PartialSuffix = " (partial estimate)"

// ErrDownloadRequired means an on-demand tokenizer returned nothing because
// its model is not downloaded yet. Retry after the download completes.
var ErrDownloadRequired = errors.New("tokenizer returned no output; model download required, retry once it finishes")

// Counter counts tokens in text.
type Counter interface {
	Name() string
	Count(ctx context.Context, text string) (int, error)
}

// Config selects and configures a counter.
type Config struct {
	Provider      string  `yaml:"provider"` // estimate | http
	Name          string  `yaml:"name"`
	URL           string  `yaml:"url"`
	Model         string  `yaml:"model"`
	OnDemand      bool    `yaml:"on_demand"`
	CharsPerToken float64 `yaml:"chars_per_token"`
	CacheSize     int     `yaml:"cache_size"`
	Timeout       string  `yaml:"timeout"`
}

// --- Estimate ---

// EstimateCounter approximates tokens from character count.
type EstimateCounter struct {
	Ratio float64
}

// NewEstimate returns an estimate counter; ratio <= 0 uses the default.
func NewEstimate(ratio float64) *EstimateCounter {
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return &EstimateCounter{Ratio: ratio}
}

func (e *EstimateCounter) Name() string { return "estimate" }

func (e *EstimateCounter) Count(_ context.Context, text string) (int, error) {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0, nil
	}
	return int(math.Ceil(float64(n) / e.Ratio)), nil
}

// --- HTTP ---

// HTTPCounter calls a remote count endpoint that accepts {"text","model"}
// and answers {"count","ids"}.
type HTTPCounter struct {
	name     string
	url      string
	model    string
	onDemand bool
	client   *http.Client
}

type countRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type countResponse struct {
	Count *int  `json:"count"`
	IDs   []int `json:"ids"`
}

// NewHTTPCounter creates a counter against url.
func NewHTTPCounter(name, url, model string, onDemand bool, timeout time.Duration) *HTTPCounter {
	if name == "" {
		name = "http"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCounter{
		name:     name,
		url:      url,
		model:    model,
		onDemand: onDemand,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTPCounter) Name() string { return h.name }

func (h *HTTPCounter) Count(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	body, _ := json.Marshal(countRequest{Text: text, Model: h.model})
	req, err := http.NewRequestWithContext(ctx, "POST", h.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request failed: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%s error %d: %s", h.name, resp.StatusCode, string(b))
	}

	var result countResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%s decode: %w", h.name, err)
	}
	count := len(result.IDs)
	if result.Count != nil {
		count = *result.Count
	}
	if count == 0 && h.onDemand {
		return 0, fmt.Errorf("%s: %w", h.name, ErrDownloadRequired)
	}
	return count, nil
}

// --- Cache ---

// CachedCounter memoizes counts per text.
type CachedCounter struct {
	inner Counter
	cache *lru.Cache[uint64, int]
}

// NewCached wraps inner with an LRU of size entries.
func NewCached(inner Counter, size int) *CachedCounter {
	if size <= 0 {
		size = 1024
	}
	cache, _ := lru.New[uint64, int](size)
	return &CachedCounter{inner: inner, cache: cache}
}

func (c *CachedCounter) Name() string { return c.inner.Name() }

func (c *CachedCounter) Count(ctx context.Context, text string) (int, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	key := h.Sum64()
	if n, ok := c.cache.Get(key); ok {
		return n, nil
	}
	n, err := c.inner.Count(ctx, text)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, n)
	return n, nil
}

// --- Fallback ---

// FallbackCounter uses the estimate when the primary counter is missing or fails.
type FallbackCounter struct {
	primary  Counter
	estimate *EstimateCounter
	logger   *zap.Logger

	fallbacks atomic.Int64
}

// WithFallback wraps primary; a nil primary always estimates.
func WithFallback(primary Counter, ratio float64, logger *zap.Logger) *FallbackCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCounter{primary: primary, estimate: NewEstimate(ratio), logger: logger}
}

func (f *FallbackCounter) Name() string {
	if f.primary == nil {
		return f.estimate.Name()
	}
	return f.primary.Name()
}

// Fallbacks returns how many counts the estimate answered for a failing primary.
func (f *FallbackCounter) Fallbacks() int64 { return f.fallbacks.Load() }

func (f *FallbackCounter) Count(ctx context.Context, text string) (int, error) {
	if f.primary == nil {
		return f.estimate.Count(ctx, text)
	}
	n, err := f.primary.Count(ctx, text)
	if err != nil {
		f.fallbacks.Add(1)
		f.logger.Warn("token count failed, using estimate", zap.String("tokenizer", f.primary.Name()), zap.Error(err))
		return f.estimate.Count(ctx, text)
	}
	return n, nil
}

// --- Factory ---

// New builds a counter from cfg. Unknown or empty providers estimate.
func New(cfg Config) (Counter, error) {
	var c Counter
	switch cfg.Provider {
	case "", "estimate":
		c = NewEstimate(cfg.CharsPerToken)
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("tokenizer %q: url is required", cfg.Name)
		}
		timeout := 30 * time.Second
		if cfg.Timeout != "" {
			d, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("tokenizer timeout: %w", err)
			}
			timeout = d
		}
		c = NewHTTPCounter(cfg.Name, cfg.URL, cfg.Model, cfg.OnDemand, timeout)
	default:
		return nil, fmt.Errorf("unknown tokenizer provider %q (valid: estimate, http)", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		c = NewCached(c, cfg.CacheSize)
	}
	return c, nil
}

// Describe renders a counter name with its estimate ratio where useful.
func Describe(c Counter) string {
	if e, ok := c.(*EstimateCounter); ok {
		return "estimate (" + strconv.FormatFloat(e.Ratio, 'f', 2, 64) + " chars/token)"
	}
	return c.Name()
}
