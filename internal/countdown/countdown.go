// Package countdown parks until a wall-clock instant with sub-100ms
// accuracy. Plain time.Sleep over minutes drifts and ignores clock
// adjustments, so the wait is a staircase: coarse sleeps far out,
// re-reading the clock each step, tightening to a single exact sleep
// inside the final window.
package countdown

import (
	"context"
	"time"

	"busbot/pkg/logx"
)

const (
	coarseStep = time.Second
	midStep    = 100 * time.Millisecond
	fineStep   = 10 * time.Millisecond

	// finalWindow is the largest remainder trusted to one uninterrupted
	// sleep. Beyond it the clock is re-read between steps.
	finalWindow = 50 * time.Millisecond
)

// Clock abstracts time for tests. Sleep must honor ctx cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock is the production clock.
func SystemClock() Clock { return systemClock{} }

// Wait parks until target. A target in the past returns immediately.
// Cancellation is checked between steps and during every sleep.
func Wait(ctx context.Context, clk Clock, target time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := target.Sub(clk.Now())
		if remaining <= 0 {
			return nil
		}
		if remaining <= finalWindow {
			return clk.Sleep(ctx, remaining)
		}

		var step time.Duration
		switch {
		case remaining > time.Minute:
			step = coarseStep
		case remaining > 10*time.Second:
			step = midStep
		default:
			step = fineStep
		}
		if err := clk.Sleep(ctx, step); err != nil {
			return err
		}
	}
}

// RunAt waits for target and then invokes fn. The observed drift (how
// late past target fn started) is logged; on the hardware this runs on
// it stays under finalWindow.
func RunAt(ctx context.Context, clk Clock, target time.Time, log logx.Logger, fn func(context.Context) error) error {
	log.Info("countdown armed",
		logx.Time("target", target),
		logx.Duration("remaining", target.Sub(clk.Now())),
	)
	if err := Wait(ctx, clk, target); err != nil {
		return err
	}
	log.Debug("countdown fired", logx.Duration("drift", clk.Now().Sub(target)))
	return fn(ctx)
}
