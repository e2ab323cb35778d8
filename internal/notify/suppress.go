package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSuppressionWindow is how long a repeated notification for the
// same key stays silenced.
const DefaultSuppressionWindow = 24 * time.Hour

// SetNXClient is the slice of the redis API the suppressor needs.
// Satisfied by *redis.Client.
type SetNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Suppressor wraps a Dispatcher with a redis-backed dedupe window so a
// buyer is not notified repeatedly about the same condition (e.g. a
// restart charge that keeps failing on retries).
type Suppressor struct {
	rdb    SetNXClient
	inner  Dispatcher
	window time.Duration
	logger zerolog.Logger
}

func NewSuppressor(rdb SetNXClient, inner Dispatcher, window time.Duration, logger zerolog.Logger) *Suppressor {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &Suppressor{
		rdb:    rdb,
		inner:  inner,
		window: window,
		logger: logger.With().Str("component", "notify_suppress").Logger(),
	}
}

// DispatchOnce dispatches msg unless an identical (kind, dedupeKey) pair
// was dispatched inside the window. Redis outages fail open: a duplicate
// email beats a silently dropped one.
func (s *Suppressor) DispatchOnce(ctx context.Context, dedupeKey string, msg Message) error {
	key := fmt.Sprintf("notify:suppress:%s:%s", msg.Kind, dedupeKey)

	set, err := s.rdb.SetNX(ctx, key, 1, s.window).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("suppression lookup failed, dispatching anyway")
		return s.inner.Dispatch(ctx, msg)
	}
	if !set {
		s.logger.Debug().Str("key", key).Msg("notification suppressed")
		return nil
	}

	return s.inner.Dispatch(ctx, msg)
}

// Dispatch passes through without suppression.
func (s *Suppressor) Dispatch(ctx context.Context, msg Message) error {
	return s.inner.Dispatch(ctx, msg)
}
