package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSetNX implements SetNXClient in memory, recording the window each
// key was stored with.
type fakeSetNX struct {
	keys map[string]time.Duration
	err  error
}

func newFakeSetNX() *fakeSetNX {
	return &fakeSetNX{keys: make(map[string]time.Duration)}
}

func (f *fakeSetNX) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func restartMsg(kind Kind, subID uuid.UUID) Message {
	return Message{
		Kind:    kind,
		Payload: SubscriptionPayload{SubscriptionID: subID, BuyerEmail: "buyer@example.com"},
	}
}

func TestSuppressor(t *testing.T) {
	ctx := context.Background()
	subID := uuid.New()

	t.Run("repeat inside the window is suppressed", func(t *testing.T) {
		rdb := newFakeSetNX()
		inner := &MockDispatcher{}
		s := NewSuppressor(rdb, inner, time.Hour, zerolog.Nop())

		msg := restartMsg(KindRestartFailed, subID)
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), msg))
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), msg))

		assert.Equal(t, 1, inner.Sent(KindRestartFailed))
		for _, window := range rdb.keys {
			assert.Equal(t, time.Hour, window)
		}
	})

	t.Run("distinct kinds do not cross-suppress", func(t *testing.T) {
		rdb := newFakeSetNX()
		inner := &MockDispatcher{}
		s := NewSuppressor(rdb, inner, time.Hour, zerolog.Nop())

		require.NoError(t, s.DispatchOnce(ctx, subID.String(), restartMsg(KindRestartFailed, subID)))
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), restartMsg(KindRestartSucceeded, subID)))

		assert.Equal(t, 1, inner.Sent(KindRestartFailed))
		assert.Equal(t, 1, inner.Sent(KindRestartSucceeded))
	})

	t.Run("distinct keys do not cross-suppress", func(t *testing.T) {
		rdb := newFakeSetNX()
		inner := &MockDispatcher{}
		s := NewSuppressor(rdb, inner, time.Hour, zerolog.Nop())

		other := uuid.New()
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), restartMsg(KindRestartFailed, subID)))
		require.NoError(t, s.DispatchOnce(ctx, other.String(), restartMsg(KindRestartFailed, other)))

		assert.Equal(t, 2, inner.Sent(KindRestartFailed))
	})

	t.Run("redis failure fails open", func(t *testing.T) {
		rdb := newFakeSetNX()
		rdb.err = errors.New("connection refused")
		inner := &MockDispatcher{}
		s := NewSuppressor(rdb, inner, time.Hour, zerolog.Nop())

		msg := restartMsg(KindRestartFailed, subID)
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), msg))
		require.NoError(t, s.DispatchOnce(ctx, subID.String(), msg))

		// a duplicate beats a silently dropped notice
		assert.Equal(t, 2, inner.Sent(KindRestartFailed))
	})

	t.Run("plain dispatch bypasses suppression", func(t *testing.T) {
		rdb := newFakeSetNX()
		inner := &MockDispatcher{}
		s := NewSuppressor(rdb, inner, time.Hour, zerolog.Nop())

		msg := restartMsg(KindRestartPending, subID)
		require.NoError(t, s.Dispatch(ctx, msg))
		require.NoError(t, s.Dispatch(ctx, msg))

		assert.Equal(t, 2, inner.Sent(KindRestartPending))
		assert.Empty(t, rdb.keys)
	})

	t.Run("zero window falls back to the default", func(t *testing.T) {
		s := NewSuppressor(newFakeSetNX(), &MockDispatcher{}, 0, zerolog.Nop())
		assert.Equal(t, DefaultSuppressionWindow, s.window)
	})
}
