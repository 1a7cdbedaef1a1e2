package metrics

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPrefix    = "nuka:dispatch:metrics:"
	timingsKept    = 1000
	redisOpTimeout = 2 * time.Second
)

type event struct {
	apply func(ctx context.Context, p redis.Pipeliner)
}

// RedisSink persists counters to Redis from a background goroutine.
// Events are queued without blocking and dropped when the queue is full.
type RedisSink struct {
	rdb     *redis.Client
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
	dropped int64
	mu      sync.Mutex
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink starts a sink writing through rdb.
func NewRedisSink(rdb *redis.Client, buffer int, logger *zap.Logger) *RedisSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &RedisSink{
		rdb:    rdb,
		events: make(chan event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *RedisSink) run() {
	defer close(s.done)
	for {
		select {
		case e := <-s.events:
			s.write(e)
		case <-s.stop:
			for {
				select {
				case e := <-s.events:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisSink) write(e event) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		e.apply(ctx, p)
		return nil
	})
	if err != nil {
		s.logger.Warn("metrics write failed", zap.Error(err))
	}
}

func (s *RedisSink) enqueue(apply func(ctx context.Context, p redis.Pipeliner)) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.events <- event{apply: apply}:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			s.logger.Warn("metrics queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

// Close flushes queued events and stops the writer.
func (s *RedisSink) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *RedisSink) StartTimer(op string, md map[string]any) *Timer {
	return begin(op, md)
}

func (s *RedisSink) EndTimer(t *Timer, extra map[string]any) Timing {
	tm := finish(t, extra)
	data, err := json.Marshal(tm)
	if err != nil {
		s.logger.Warn("marshal timing", zap.Error(err))
		return tm
	}
	key := redisPrefix + "timings:" + tm.Operation
	s.enqueue(func(ctx context.Context, p redis.Pipeliner) {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, timingsKept-1)
	})
	return tm
}

func (s *RedisSink) RecordTaskOutcome(status string, d time.Duration) {
	s.enqueue(func(ctx context.Context, p redis.Pipeliner) {
		p.HIncrBy(ctx, redisPrefix+"tasks", status, 1)
		if d > 0 {
			p.HIncrBy(ctx, redisPrefix+"task_duration_ms", status, d.Milliseconds())
		}
	})
}

func (s *RedisSink) RecordWorkerOutcome(id, name string, success bool, d time.Duration) {
	field := "failed"
	if success {
		field = "succeeded"
	}
	key := redisPrefix + "worker:" + id
	s.enqueue(func(ctx context.Context, p redis.Pipeliner) {
		p.HSet(ctx, key, "name", name)
		p.HIncrBy(ctx, key, field, 1)
		if d > 0 {
			p.HIncrBy(ctx, key, "duration_ms", d.Milliseconds())
		}
	})
}

func (s *RedisSink) SetQueueDepth(n int) {
	s.enqueue(func(ctx context.Context, p redis.Pipeliner) {
		p.Set(ctx, redisPrefix+"queue_depth", strconv.Itoa(n), 0)
	})
}
