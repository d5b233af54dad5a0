// Package netutil holds network helpers shared by the commands.
package netutil

import (
	"context"
	"errors"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
)

// ErrThresholdReached is returned once retrying has taken longer than the threshold.
var ErrThresholdReached = errors.New("threshold timeout has been reached")

// RetryFunc is one attempt.
type RetryFunc func(ctx context.Context) error

// Retrier runs a function until it succeeds, backing off exponentially between attempts.
type Retrier struct {
	log                *logging.Logger
	exponentialBackoff time.Duration
	exponentialFactor  uint32
	threshold          time.Duration
	errWhitelist       map[error]struct{}
}

// NewRetrier creates a Retrier. The first retry waits exponentialBackoff, every
// following one factor times longer; retrying stops after threshold.
func NewRetrier(log *logging.Logger, exponentialBackoff, threshold time.Duration, factor uint32) *Retrier {
	return &Retrier{
		log:                log,
		exponentialBackoff: exponentialBackoff,
		threshold:          threshold,
		exponentialFactor:  factor,
		errWhitelist:       make(map[error]struct{}),
	}
}

// WithErrWhitelist sets the errors that are returned right away instead of retried.
func (r *Retrier) WithErrWhitelist(errors ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errors {
		m[err] = struct{}{}
	}

	r.errWhitelist = m
	return r
}

// Do calls f until it returns nil or a whitelisted error, the threshold passes or ctx is done.
// Attempts that outlive the threshold are canceled through their context.
func (r *Retrier) Do(ctx context.Context, f RetryFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var backoff <-chan time.Time
	var doneCh <-chan time.Time

	currentBackoff := r.exponentialBackoff

	errCh := make(chan error, 1)
	attempt := func() {
		go func() {
			errCh <- f(ctx)
		}()
	}
	attempt()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-doneCh:
			return ErrThresholdReached
		case <-backoff:
			backoff = nil
			attempt()
		case err := <-errCh:
			if err == nil {
				return nil
			}
			if r.isWhitelisted(err) {
				return err
			}
			if r.log != nil {
				r.log.WithError(err).Warnf("Attempt failed, retrying in %s", currentBackoff)
			}

			backoff = time.After(currentBackoff)
			currentBackoff = currentBackoff * time.Duration(r.exponentialFactor)
			if doneCh == nil {
				doneCh = time.After(r.threshold)
			}
		}
	}
}

func (r *Retrier) isWhitelisted(err error) bool {
	_, ok := r.errWhitelist[err]
	return ok
}
