package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const processedEventPrefix = "event:processed:"

// EventStore records processed event ids so redelivered events are handled
// once across consumer instances.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventStore creates a store whose entries live for ttl.
func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	return &EventStore{client: client, ttl: ttl}
}

func (s *EventStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedEventPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists event: %w", err)
	}
	return n > 0, nil
}

func (s *EventStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, processedEventPrefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set event: %w", err)
	}
	return nil
}
