package annotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
)

// RetryPolicy bounds the attempts made for one segment.
type RetryPolicy struct {
	Retries     int           // extra attempts after the first
	Timeout     time.Duration // per attempt, 0 disables
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	maxDelay := p.BackoffMax
	if maxDelay <= 0 {
		maxDelay = defaultBackoffMax
	}
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(maxDelay, b)
	return retry.WithMaxRetries(uint64(retries), b) // #nosec G115 -- clamped above
}

// do runs call under the policy. call marks transient errors with
// retry.RetryableError; everything else stops immediately. The final error
// wraps ErrAdapterFailure unless call already classified it as malformed.
func (p RetryPolicy) do(ctx context.Context, name string, call func(ctx context.Context) (Document, error)) (Document, error) {
	var doc Document
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		var callErr error
		doc, callErr = call(attemptCtx)
		return callErr
	})
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, internalerr.ErrMalformedAnnotation) {
		return nil, fmt.Errorf("annotate %s: %w", name, err)
	}
	return nil, fmt.Errorf("annotate %s: %w", name, errors.Join(internalerr.ErrAdapterFailure, err))
}
