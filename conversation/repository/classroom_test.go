package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"school-portal/backend/pkg/cache"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	known map[string]bool
	err   error
	calls int
}

func (l *countingLookup) Exists(_ context.Context, id string) (bool, error) {
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.known[id], nil
}

func TestCachedClassroomDirectory_CachesHitsOnly(t *testing.T) {
	next := &countingLookup{known: map[string]bool{"room-1": true}}
	d := NewCachedClassroomDirectory(next, cache.New[struct{}](cache.Options{TTL: time.Minute}), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := d.Exists(ctx, "room-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, next.calls)

	for i := 0; i < 2; i++ {
		ok, err := d.Exists(ctx, "room-9")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 3, next.calls)
}

func TestCachedClassroomDirectory_BreakerOpens(t *testing.T) {
	next := &countingLookup{err: errors.New("connection refused")}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "classrooms",
		FailureThreshold: 2,
		RetryTimeout:     time.Hour,
	}, logger.Discard())
	d := NewCachedClassroomDirectory(next, nil, breaker)
	ctx := context.Background()

	_, err := d.Exists(ctx, "room-1")
	assert.Error(t, err)
	_, err = d.Exists(ctx, "room-1")
	assert.Error(t, err)

	_, err = d.Exists(ctx, "room-1")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)
}

func TestStaticClassroomDirectory(t *testing.T) {
	d := NewStaticClassroomDirectory("a", "b")
	ok, err := d.Exists(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = d.Exists(context.Background(), "c")
	assert.False(t, ok)
}
