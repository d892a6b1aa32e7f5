// package retry runs an operation under a bounded retry policy with linear backoff.
//
// Errors are classified into explicit [Outcome] values by a pluggable [Classifier]; only
// [Transient] outcomes are retried.
package retry

import (
	"context"
	"time"
)

// Outcome classifies the result of one attempt.
type Outcome int

const (
	Succeeded Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return ""
	}
}

// Classifier maps an error to an [Outcome]. A nil error must map to [Succeeded].
type Classifier func(error) Outcome

// Result is the final outcome of [Policy.Do].
type Result struct {
	Outcome  Outcome // Outcome of the last attempt
	Err      error   // Error of the last attempt, nil on success
	Attempts int     // Number of attempts made, at least 1
}

// Retried reports whether more than one attempt was needed.
func (r Result) Retried() bool {
	return r.Attempts > 1
}

// Policy retries transient failures up to MaxAttempts times, waiting Delay * attempt between tries.
type Policy struct {
	MaxAttempts int           // Retries after the first attempt
	Delay       time.Duration // Base delay, multiplied by the attempt number
	Classify    Classifier    // Defaults to [Classify]
	OnRetry     func(attempt int, delay time.Duration, err error)
	sleep       func(context.Context, time.Duration) error
}

// DefaultPolicy returns the policy used when nothing is configured: 3 retries, 1s base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Second, Classify: Classify}
}

// Backoff returns the wait before retry number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.Delay * time.Duration(attempt)
}

// Do runs op until it succeeds, fails permanently, or the retry budget is spent.
//
// Cancellation of ctx interrupts a pending backoff and is reported as a permanent failure.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) Result {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = wait
	}

	attempt := 0
	for {
		attempt++
		err := op(ctx)
		outcome := classify(err)
		if err == nil {
			outcome = Succeeded
		}

		if outcome != Transient || attempt > p.MaxAttempts {
			return Result{Outcome: outcome, Err: err, Attempts: attempt}
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return Result{Outcome: Permanent, Err: serr, Attempts: attempt}
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
