package store

import (
	"context"
	"encoding/json"

	"github.com/nimblegames/arena/internal/models"
)

// PublishMatchEvent serializes and publishes to topic (events:match_found
// or events:match_ended). Publish always happens after the write group
// it describes.
func (s *Store) PublishMatchEvent(ctx context.Context, topic string, ev models.MatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, topic, data).Err()
}

// SubscribeMatchEvents subscribes to one or more topics and returns a
// channel of decoded events. The returned function must be called to
// close the underlying subscription when the caller is done (typically
// never, for a gateway's lifetime subscription).
func (s *Store) SubscribeMatchEvents(ctx context.Context, topics ...string) (<-chan models.MatchEvent, func() error) {
	sub := s.rdb.Subscribe(ctx, topics...)
	raw := sub.Channel()
	out := make(chan models.MatchEvent)

	go func() {
		defer close(out)
		for msg := range raw {
			var ev models.MatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close
}
