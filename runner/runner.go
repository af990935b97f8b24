package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// PassFunc is one whole-mailbox pass: connect, select, act, disconnect.
type PassFunc func(ctx context.Context) error

type Options struct {
	Forever  bool
	Interval time.Duration
}

type Runner struct {
	opts   Options
	logger *slog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

func New(opts Options, logger *slog.Logger) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{opts: opts, logger: logger, wait: sleep}
}

// Run executes pass once, or repeatedly until ctx is cancelled when running
// forever. In forever mode a failed pass is logged and retried after the
// interval; a single pass returns its error.
func (r *Runner) Run(ctx context.Context, pass PassFunc) error {
	if !r.opts.Forever {
		return r.once(ctx, 1, pass)
	}

	r.logger.Info("running forever", "interval", r.opts.Interval)
	for n := 1; ; n++ {
		if err := r.once(ctx, n, pass); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("pass failed, retrying", "pass", n, "retryIn", r.opts.Interval, "err", err)
		}
		if err := r.wait(ctx, r.opts.Interval); err != nil {
			r.logger.Info("stopping", "passes", n)
			return nil
		}
	}
}

func (r *Runner) once(ctx context.Context, n int, pass PassFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	err := pass(ctx)
	duration := time.Since(started)
	if err != nil {
		r.logger.Debug("pass ended with error", "pass", n, "duration", duration, "err", err)
		return err
	}
	r.logger.Debug("pass completed", "pass", n, "duration", duration)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
