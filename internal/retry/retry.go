// Package retry holds the retry policy shared by the validator connection
// and the block apply loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is an exponential retry policy.
type Policy struct {
	// MaxAttempts is the total number of tries, the first one included.
	MaxAttempts uint `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// InitialDelay is the wait before the second try.
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// Multiplier grows the delay after each failed try.
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// Default returns the policy used when none is configured.
func Default() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Validate reports whether the policy can be used.
func (p Policy) Validate() error {
	if p.MaxAttempts == 0 {
		return errors.New("retry: max_attempts must be at least 1")
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry: delays must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier %v must be >= 1", p.Multiplier)
	}
	return nil
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts uint
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying. Do returns it unwrapped
// without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called after a failed attempt, before waiting delay.
type Notify func(attempt uint, err error, delay time.Duration)

// Do runs op until it succeeds, returns a Permanent error, the context
// ends, or the policy is exhausted. On exhaustion the last error is
// returned inside an *ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var attempts uint
	var last error
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempts++
			last = op(ctx)
			return struct{}{}, last
		},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			if notify != nil {
				notify(attempts, err, d)
			}
		}),
	)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(last, &perm) {
		return perm.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && attempts < p.MaxAttempts {
		return ctxErr
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}
