package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}
func (failingStore) Add(context.Context, string) error { return errors.New("store down") }

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(10 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "e-1"))
	seen, err := store.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, seen)

	time.Sleep(20 * time.Millisecond)
	seen, err = store.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	event := &Event{EventID: "e-1"}
	require.NoError(t, h(context.Background(), event))
	require.ErrorIs(t, h(context.Background(), event), ErrDuplicate)
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_DoesNotRecordFailures(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	fail := true
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}, testLogger())

	event := &Event{EventID: "e-1"}
	require.Error(t, h(context.Background(), event))
	fail = false
	require.NoError(t, h(context.Background(), event))
}

func TestIdempotentHandler_PassesThroughWithoutIDOrStore(t *testing.T) {
	calls := 0
	inner := func(context.Context, *Event) error { calls++; return nil }

	require.NoError(t, IdempotentHandler(NewMemoryIdempotencyStore(time.Minute), inner, testLogger())(context.Background(), &Event{}))
	require.NoError(t, IdempotentHandler(failingStore{}, inner, testLogger())(context.Background(), &Event{EventID: "e-1"}))
	assert.Equal(t, 2, calls)
}
