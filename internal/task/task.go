// Package task implements a small cancellable periodic-task scheduler: a
// Func runs on a Schedule until stopped, with an optional immediate Reset.
// This is the primitive the heartbeat loops and the leader timeout sweep
// run on.
package task

import (
	"context"
	"time"
)

// Func is the unit of work executed on every tick.
type Func func(context.Context)

// Schedule returns the delay before the next execution, or an error. A
// zero delay with a nil error means "run now"; Every expresses "never run"
// as the maximum time.Duration. A non-nil error aborts
// the task unless the returned delay is positive, in which case the
// schedule is retried again after that delay.
type Schedule func() (time.Duration, error)

// Every returns a Schedule that fires at a fixed interval. If interval is
// zero, the task function is never invoked. By default the first
// invocation happens immediately; pass SkipFirst to delay it by one
// interval.
func Every(interval time.Duration, options ...Option) Schedule {
	o := &scheduleOptions{}
	for _, opt := range options {
		opt(o)
	}

	const never = time.Duration(1<<63 - 1)

	first := true
	return func() (time.Duration, error) {
		if interval <= 0 {
			return never, nil
		}
		if first {
			first = false
			if o.skipFirst {
				return interval, nil
			}
			return 0, nil
		}
		return interval, nil
	}
}

// Option tweaks the behavior of Every.
type Option func(*scheduleOptions)

type scheduleOptions struct {
	skipFirst bool
}

// SkipFirst delays the first execution by one interval instead of running
// immediately.
func SkipFirst(o *scheduleOptions) { o.skipFirst = true }

// Task groups the cancel function, done channel and reset channel of a
// running scheduled Func. It has no methods and Start does not return it;
// Start hands back the stop and reset functions directly.
type Task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	resetCh chan struct{}
}

// Start begins running f according to schedule in a new goroutine. It
// returns a stop function (blocks until the task goroutine exits or the
// timeout elapses) and a reset function (triggers immediate re-evaluation).
func Start(f Func, schedule Schedule) (stop func(timeout time.Duration) error, reset func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	resetCh := make(chan struct{}, 1)

	go run(ctx, f, schedule, done, resetCh)

	stop = func(timeout time.Duration) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-time.After(timeout):
			return context.DeadlineExceeded
		}
	}
	reset = func() {
		select {
		case resetCh <- struct{}{}:
		default:
		}
	}
	return stop, reset
}

func run(ctx context.Context, f Func, schedule Schedule, done chan struct{}, resetCh chan struct{}) {
	defer close(done)

	for {
		delay, err := schedule()
		if err != nil && delay <= 0 {
			return
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-resetCh:
				timer.Stop()
			case <-timer.C:
			}
		}

		if err != nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		f(ctx)
	}
}
