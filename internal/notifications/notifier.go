// Package notifications provides real-time notification delivery over Redis
// pub/sub and websocket fan-out.
package notifications

import (
	"context"
	"encoding/json"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const userChannelPrefix = "notifications:user:"

// Event types published to user channels.
const (
	EventPostLiked     = "post_liked"
	EventPostCommented = "post_commented"
	EventNewMessage    = "new_message"
)

// Event is the payload delivered to a user's notification stream.
type Event struct {
	Type          string    `json:"type"`
	PostID        string    `json:"post_id,omitempty"`
	ChatID        string    `json:"chat_id,omitempty"`
	ActorUID      string    `json:"actor_uid"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client disables publishing; every method becomes a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser sends an event to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, uid string, event Event) error {
	if n.rdb == nil || uid == "" {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, userChannelPrefix+uid, payload).Err()
}

// StartPatternSubscriber subscribes to the user channel pattern and calls
// onMessage for each incoming message with the recipient uid and payload.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(uid string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				uid := strings.TrimPrefix(msg.Channel, userChannelPrefix)
				if uid == "" || uid == msg.Channel {
					log.Printf("invalid notification channel: %s", msg.Channel)
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in PatternSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(uid, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
