package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aviz85/purim/internal/song"
)

// updatesChannel carries one JSON song.Update per persisted status
// change. Fan-out goes through Redis rather than straight to the hub so
// every instance behind a load balancer sees every change.
const updatesChannel = "songs:updates"

type Service struct {
	client *redis.Client
}

func New(redisURL string) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client}, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Service) Client() *redis.Client {
	return s.client
}

// PublishUpdate broadcasts a song update to every subscribed instance.
func (s *Service) PublishUpdate(ctx context.Context, u song.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal song update: %w", err)
	}
	if err := s.client.Publish(ctx, updatesChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish song update: %w", err)
	}
	return nil
}

// SubscribeUpdates delivers every published song update to fn until ctx
// is canceled. Malformed messages are logged and skipped.
func (s *Service) SubscribeUpdates(ctx context.Context, fn func(song.Update)) {
	sub := s.client.Subscribe(ctx, updatesChannel)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var u song.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					slog.Warn("bad song update payload", "err", err)
					continue
				}
				fn(u)
			}
		}
	}()
}
