// Package notify implements the asynchronous reviewer notification channel on
// top of Kafka, with a Redis index correlating outbound message ids to
// escalation correlation tokens.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aibot-go/internal/config"
	"aibot-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// tokenIndexTTL bounds how long a reply can still be correlated through the
// message-id index. Replies older than this must carry the token inline.
const tokenIndexTTL = 30 * 24 * time.Hour

// OutboundMessage is the payload published to the reviewer topic.
type OutboundMessage struct {
	MessageID        string `json:"message_id"`
	ChannelID        string `json:"channel_id"`
	Body             string `json:"body"`
	CorrelationToken string `json:"correlation_token"`
}

// InboundReply is a reviewer's reply as delivered by the channel.
type InboundReply struct {
	RepliedToMessageID string `json:"replied_to_message_id"`
	ReplyText          string `json:"reply_text"`
	SenderIdentity     string `json:"sender_identity"`
}

// ReplyHandler consumes inbound reviewer replies.
type ReplyHandler interface {
	HandleReply(ctx context.Context, reply InboundReply) error
}

// Channel dispatches reviewer notifications.
type Channel interface {
	Notify(ctx context.Context, channelID, body, correlationToken string) (string, error)
	LookupToken(ctx context.Context, messageID string) (string, error)
}

type kafkaChannel struct {
	writer *kafka.Writer
	rdb    *redis.Client
}

// NewKafkaChannel creates the Kafka-backed notification channel.
func NewKafkaChannel(cfg config.NotifyConfig, rdb *redis.Client) Channel {
	return &kafkaChannel{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		rdb: rdb,
	}
}

// Notify publishes one notification and records the message-id → token
// mapping so a later reply can be routed without re-deriving tenant state.
func (c *kafkaChannel) Notify(ctx context.Context, channelID, body, correlationToken string) (string, error) {
	msg := OutboundMessage{
		MessageID:        uuid.NewString(),
		ChannelID:        channelID,
		Body:             body,
		CorrelationToken: correlationToken,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.MessageID),
		Value: msgBytes,
	}); err != nil {
		return "", fmt.Errorf("failed to publish notification: %w", err)
	}

	key := tokenIndexKey(msg.MessageID)
	if err := c.rdb.Set(ctx, key, correlationToken, tokenIndexTTL).Err(); err != nil {
		// The token is still embedded in the body; replies quoting it remain
		// routable, so indexing failure is not fatal.
		log.Warnf("[Notify] failed to index correlation token for message %s: %v", msg.MessageID, err)
	}

	return msg.MessageID, nil
}

// LookupToken resolves a replied-to message id to its correlation token.
func (c *kafkaChannel) LookupToken(ctx context.Context, messageID string) (string, error) {
	token, err := c.rdb.Get(ctx, tokenIndexKey(messageID)).Result()
	if err == redis.Nil {
		return "", errors.New("unknown notification message id")
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up correlation token: %w", err)
	}
	return token, nil
}

func tokenIndexKey(messageID string) string {
	return fmt.Sprintf("notify:msg:%s:token", messageID)
}

// StartReplyConsumer runs the inbound reply loop until ctx is cancelled.
// Malformed messages are committed and skipped; handler errors are logged and
// committed as well, because the resolution handler is idempotent and a
// poison reply must not block the channel.
func StartReplyConsumer(ctx context.Context, cfg config.NotifyConfig, handler ReplyHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.RepliesTopic,
		GroupID:  "aibot-resolution-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Notify] failed to close reply consumer: %v", err)
		}
	}()

	log.Infof("[Notify] reply consumer started on topic '%s'", cfg.RepliesTopic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("[Notify] failed to fetch reply message", err)
			return
		}

		var reply InboundReply
		if err := json.Unmarshal(m.Value, &reply); err != nil {
			log.Errorf("[Notify] malformed reply message: %v, value: %s", err, string(m.Value))
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("[Notify] failed to commit malformed reply: %v", err)
			}
			continue
		}

		if err := handler.HandleReply(ctx, reply); err != nil {
			log.Errorf("[Notify] reply handling failed (sender=%s): %v", reply.SenderIdentity, err)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Notify] failed to commit reply offset: %v", err)
		}
	}
}
