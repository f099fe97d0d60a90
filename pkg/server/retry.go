package server

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/rs/zerolog/log"
)

type RetrySettings struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts:     4,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// retryOnConflict reruns op while it fails with a version conflict, with
// exponential backoff. Any other error stops immediately.
func retryOnConflict[T any](ctx context.Context, settings RetrySettings, op func() (T, error)) (T, error) {
	attempts := settings.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if settings.InitialInterval > 0 {
		b.InitialInterval = settings.InitialInterval
	}
	if settings.MaxInterval > 0 {
		b.MaxInterval = settings.MaxInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		ret, err := op()
		if err == nil {
			return ret, nil
		}
		if !errors.Is(err, conversation.ErrConflict) {
			return ret, backoff.Permanent(err)
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("version conflict, retrying")
		return ret, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
}
