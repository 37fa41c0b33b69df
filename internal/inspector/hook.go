package inspector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/host"
)

// ErrHookUnavailable is returned by registries whose prompt manager is not
// constructed yet.
var ErrHookUnavailable = errors.New("fragment hook not available yet")

// FragmentHook is called once per logical prompt fragment and returns the
// content the host should use.
type FragmentHook func(host.PromptFragment) string

// HookRegistry is the host's explicit extension point for fragment hooks.
type HookRegistry interface {
	RegisterFragmentHook(FragmentHook) error
}

// HookOptions bound attach retries.
type HookOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (o HookOptions) withDefaults() HookOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	return o
}

// Attach registers OnPromptFragment with reg, retrying with exponential
// backoff. Failure is logged and returned; callers may ignore it since the
// only effect is fewer itemized sections.
func (i *Inspector) Attach(ctx context.Context, reg HookRegistry) error {
	opts := i.opts.Hook.withDefaults()
	delay := opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = reg.RegisterFragmentHook(i.OnPromptFragment)
		if lastErr == nil {
			i.logger.Debug("fragment hook attached", zap.Int("attempt", attempt))
			return nil
		}
		i.logger.Debug("fragment hook attach failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == opts.MaxAttempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	i.logger.Warn("fragment hook unavailable, itemization will miss fragment sections",
		zap.Int("attempts", opts.MaxAttempts), zap.Error(lastErr))
	return fmt.Errorf("attach fragment hook after %d attempts: %w", opts.MaxAttempts, lastErr)
}
