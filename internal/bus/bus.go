// Package bus carries task and result messages between the dispatcher and
// out-of-process workers over Redis Streams.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	workerStreamPrefix = "nuka:dispatch:worker:"
	replyStreamPrefix  = "nuka:dispatch:reply:"
)

// retryDelay paces reads after a Redis error other than an empty block.
var retryDelay = 500 * time.Millisecond

// Message types.
const (
	TypeTask   = "task"
	TypeResult = "result"
)

// MessageBus handles worker communication via Redis Streams.
type MessageBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// Connect parses redisURL, pings the server and returns a bus over it.
func Connect(ctx context.Context, redisURL string, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, logger), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, logger *zap.Logger) *MessageBus {
	return &MessageBus{rdb: rdb, logger: logger}
}

// Client exposes the underlying Redis client so other components can share it.
func (mb *MessageBus) Client() *redis.Client { return mb.rdb }

// Message is a unit passed between the dispatcher and a worker.
type Message struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	ReplyTo       string    `json:"reply_to,omitempty"`
	Payload       string    `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
}

// WorkerStream returns the stream a named worker consumes from.
func WorkerStream(name string) string { return workerStreamPrefix + name }

// Publish appends msg to stream.
func (mb *MessageBus) Publish(ctx context.Context, stream string, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	mb.logger.Debug("published message",
		zap.String("stream", stream),
		zap.String("type", msg.Type),
		zap.String("correlation", msg.CorrelationID))
	return nil
}

// Subscribe reads messages appended to stream after the call starts,
// or from the beginning when fromStart is set. Cancel ctx to stop.
func (mb *MessageBus) Subscribe(ctx context.Context, stream string, fromStart bool) <-chan *Message {
	ch := make(chan *Message, 16)
	lastID := "$"
	if fromStart {
		lastID = "0"
	}

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				mb.logger.Debug("xread", zap.String("stream", stream), zap.Error(err))
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, r := range results {
				for _, xm := range r.Messages {
					lastID = xm.ID
					data, ok := xm.Values["data"].(string)
					if !ok {
						continue
					}
					var m Message
					if json.Unmarshal([]byte(data), &m) != nil {
						continue
					}
					select {
					case ch <- &m:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Request publishes a task message to the named worker and waits for the
// correlated reply.
func (mb *MessageBus) Request(ctx context.Context, from, worker, payload string) (*Message, error) {
	corr := uuid.New().String()
	replyStream := replyStreamPrefix + corr
	defer mb.rdb.Del(context.Background(), replyStream)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies := mb.Subscribe(subCtx, replyStream, true)

	err := mb.Publish(ctx, WorkerStream(worker), &Message{
		From:          from,
		To:            worker,
		Type:          TypeTask,
		CorrelationID: corr,
		ReplyTo:       replyStream,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await reply from %s: %w", worker, ctx.Err())
		case m, ok := <-replies:
			if !ok {
				return nil, fmt.Errorf("await reply from %s: %w", worker, ctx.Err())
			}
			if m.CorrelationID == corr && m.Type == TypeResult {
				return m, nil
			}
		}
	}
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}
