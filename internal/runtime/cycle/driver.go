package cycle

import (
	"context"
	"log"
	"time"

	"trustcheck/internal/trust"
)

// Runner executes one verification cycle. *trust.Verifier satisfies it.
type Runner interface {
	RunCycle(ctx context.Context) trust.CycleResult
}

// Config controls how many cycles run and how long to wait between them.
type Config struct {
	// Cycles is the number of cycles to run; zero or less runs until the
	// context is cancelled.
	Cycles int
	Delay  time.Duration
	Logger *log.Logger
}

// Summary describes a finished Run.
type Summary struct {
	Cycles      int
	Failed      int
	Interrupted bool
}

// Driver repeats cycles with a fixed delay until the count is reached or the
// context is cancelled.
type Driver struct {
	runner   Runner
	reporter trust.Reporter
	cfg      Config
	hooks    []Hook
}

func New(runner Runner, reporter trust.Reporter, cfg Config, hooks ...Hook) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if reporter == nil {
		reporter = trust.Discard
	}
	return &Driver{runner: runner, reporter: reporter, cfg: cfg, hooks: hooks}
}

// Run drives cycles until done. A failed cycle never stops the loop; it is
// reported and followed by the usual delay. The returned error is non-nil only
// when a hook fails to start.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	started, err := startHooks(ctx, d.hooks)
	if err != nil {
		return sum, err
	}
	defer stopHooks(context.WithoutCancel(ctx), started, d.cfg.Logger)

	for d.cfg.Cycles <= 0 || sum.Cycles < d.cfg.Cycles {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		res := d.runner.RunCycle(ctx)
		sum.Cycles++
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if !res.OK() {
			sum.Failed++
		}
		d.reporter.CycleDone(res)
		if !sleep(ctx, d.cfg.Delay) {
			sum.Interrupted = true
			break
		}
	}
	if sum.Interrupted {
		d.cfg.Logger.Printf("INFO: interrupted after %d cycle(s), exiting", sum.Cycles)
	} else {
		d.cfg.Logger.Printf("INFO: completed %d cycle(s), %d failed", sum.Cycles, sum.Failed)
	}
	return sum, nil
}

// sleep waits for d or until ctx is done. It reports false when interrupted.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
