package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// Change channels: one Redis pub/sub channel per collection.
const RedisChannelPrefix = "docstore:changes:"

// RedisFeed fans changes out across processes through Redis pub/sub, so
// every gateway instance sees commits made by the others.
type RedisFeed struct {
	rdb    redis.UniversalClient
	prefix string
	log    logger.Logger
}

func NewRedisFeed(rdb redis.UniversalClient, log logger.Logger) *RedisFeed {
	return &RedisFeed{rdb: rdb, prefix: RedisChannelPrefix, log: log}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + collection
}

func (f *RedisFeed) Publish(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}

	pipe := f.rdb.Pipeline()
	for _, change := range changes {
		payload, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("marshal change: %w", err)
		}
		pipe.Publish(ctx, f.channel(change.Collection), payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: publish changes: %v", apperrors.ErrUnreachable, err)
	}
	return nil
}

func (f *RedisFeed) Listen(ctx context.Context, collection string) (<-chan Change, error) {
	ps := f.rdb.Subscribe(ctx, f.channel(collection))

	// Wait for the subscription confirmation so nothing published after
	// Listen returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", apperrors.ErrUnreachable, collection, err)
	}

	out := make(chan Change, listenerBuffer)
	messages := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.log.Warn("Failed to decode change", "error", err, "channel", msg.Channel)
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the Redis client is owned by the caller.
func (f *RedisFeed) Close() error {
	return nil
}
