// Package publish implements the publication channel for drafts and the
// inbound event stream that feeds group messages and reactions back in.
//
// Drafts are appended to a per-group Redis stream; the stream entry id is the
// published reference that reactions point at. Inbound chat events arrive on
// a single shared stream and are dispatched to an InboundHandler.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultPrefix namespaces every stream key.
const DefaultPrefix = "groupwrite:"

// RedisStream publishes drafts with XADD.
type RedisStream struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisStream connects to redisURL and verifies the connection.
func NewRedisStream(redisURL, prefix string) (*RedisStream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStreamWithClient(client, prefix), nil
}

// NewRedisStreamWithClient wraps an existing client.
func NewRedisStreamWithClient(client *redis.Client, prefix string) *RedisStream {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStream{client: client, prefix: prefix, maxLen: 1000}
}

// DraftStream returns the stream key drafts of groupID are appended to.
func (p *RedisStream) DraftStream(groupID string) string {
	return p.prefix + "drafts:" + groupID
}

// Publish implements consensus.Publisher. The returned reference is the
// stream entry id.
func (p *RedisStream) Publish(ctx context.Context, groupID, draftID, content string) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.DraftStream(groupID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"draft_id": draftID,
			"content":  content,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish draft: %w", err)
	}
	return id, nil
}

// Client exposes the underlying client so an InboundConsumer can share it.
func (p *RedisStream) Client() *redis.Client { return p.client }

// Prefix returns the key prefix in use.
func (p *RedisStream) Prefix() string { return p.prefix }

// Ping checks if Redis is reachable.
func (p *RedisStream) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *RedisStream) Close() error {
	return p.client.Close()
}

// Log is a publisher for deployments without a chat channel: drafts are only
// logged and referenced by their id.
type Log struct {
	Logger zerolog.Logger
}

// Publish implements consensus.Publisher.
func (l Log) Publish(_ context.Context, groupID, draftID, content string) (string, error) {
	l.Logger.Info().
		Str("group_id", groupID).
		Str("draft_id", draftID).
		Int("content_len", len(content)).
		Msg("draft ready for review")
	return draftID, nil
}

// ---- inbound ----

// InboundHandler receives decoded inbound events.
type InboundHandler interface {
	HandleMessage(ctx context.Context, groupID, senderID, text string, at time.Time) error
	HandleReaction(ctx context.Context, groupID, ref, voterID, kind string) error
}

// ErrMalformedEvent is returned for stream entries missing required fields.
var ErrMalformedEvent = errors.New("malformed inbound event")

// InboundConsumer reads chat events from a shared stream with XREAD.
type InboundConsumer struct {
	client *redis.Client
	stream string
	block  time.Duration
	log    zerolog.Logger
}

// NewInboundConsumer reads from {prefix}inbound.
func NewInboundConsumer(client *redis.Client, prefix string, log zerolog.Logger) *InboundConsumer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &InboundConsumer{
		client: client,
		stream: prefix + "inbound",
		block:  5 * time.Second,
		log:    log,
	}
}

// Stream returns the inbound stream key.
func (c *InboundConsumer) Stream() string { return c.stream }

// Run consumes events starting after lastID ("$" for new entries only) until
// ctx is cancelled. Handler errors are logged; the entry is not retried.
func (c *InboundConsumer) Run(ctx context.Context, lastID string, h InboundHandler) error {
	if lastID == "" {
		lastID = "$"
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, lastID},
			Count:   100,
			Block:   c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read inbound: %w", err)
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				if herr := c.dispatch(ctx, msg, h); herr != nil {
					c.log.Warn().Err(herr).Str("entry_id", msg.ID).Msg("inbound event dropped")
				}
			}
		}
	}
}

func (c *InboundConsumer) dispatch(ctx context.Context, msg redis.XMessage, h InboundHandler) error {
	field := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	group := field("group_id")
	if group == "" {
		return ErrMalformedEvent
	}
	switch field("type") {
	case "message":
		at := time.Now().UTC()
		if ts := field("ts"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				at = parsed
			}
		}
		return h.HandleMessage(ctx, group, field("sender_id"), field("text"), at)
	case "reaction":
		if field("ref") == "" || field("voter_id") == "" {
			return ErrMalformedEvent
		}
		return h.HandleReaction(ctx, group, field("ref"), field("voter_id"), field("kind"))
	default:
		return ErrMalformedEvent
	}
}
