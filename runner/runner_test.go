package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRun_Once(t *testing.T) {
	calls := 0
	r := New(Options{}, nil)
	want := errors.New("connect failed")

	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Run() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("pass ran %d times, want 1", calls)
	}
}

func TestRun_ForeverRetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(Options{Forever: true, Interval: time.Hour}, nil)
	var waits []time.Duration
	r.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	calls := 0
	err := r.Run(ctx, func(context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("pass ran %d times, want 3", calls)
	}
	for _, d := range waits {
		if d != time.Hour {
			t.Errorf("waited %v, want 1h", d)
		}
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New(Options{}, nil).Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("pass should not run on a cancelled context")
	}
}

func TestSleep(t *testing.T) {
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleep() error = %v, want context.Canceled", err)
	}
}
