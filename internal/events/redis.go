package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultRedisPrefix namespaces event channels.
const DefaultRedisPrefix = "invoicegate:events"

const redisPublishTimeout = 2 * time.Second

// envelope carries an event between processes.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisPublisher fans events out to local subscribers and to every other
// process sharing the Redis instance. Events from other processes are
// delivered to local subscribers once Start has been called.
type RedisPublisher struct {
	client *redis.Client
	inner  *MemoryPublisher
	prefix string
	origin string
	logger *slog.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// RedisOption configures a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithRedisPrefix sets the channel prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(p *RedisPublisher) { p.prefix = strings.TrimSuffix(prefix, ":") }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(p *RedisPublisher) { p.logger = l }
}

// WithLocalPublisher sets the publisher local subscribers use.
func WithLocalPublisher(m *MemoryPublisher) RedisOption {
	return func(p *RedisPublisher) { p.inner = m }
}

// NewRedisPublisher creates a publisher over client.
func NewRedisPublisher(client *redis.Client, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		client: client,
		prefix: DefaultRedisPrefix,
		origin: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inner == nil {
		p.inner = NewMemoryPublisher()
	}
	return p
}

// DialRedis parses a redis:// URL and checks connectivity.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (p *RedisPublisher) channel(runID string) string {
	return p.prefix + ":" + runID
}

// Publish delivers locally, then to Redis. Redis failures are logged.
func (p *RedisPublisher) Publish(event Event) {
	p.inner.Publish(event)

	data, err := json.Marshal(envelope{Origin: p.origin, Event: event})
	if err != nil {
		p.logger.Warn("encode event for redis", "type", event.Type, "run_id", event.RunID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel(event.RunID), data).Err(); err != nil {
		p.logger.Warn("publish event to redis", "type", event.Type, "run_id", event.RunID, "error", err)
	}
}

// Start subscribes to events from other processes. It returns once the
// subscription is confirmed.
func (p *RedisPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	pubsub := p.client.PSubscribe(ctx, p.prefix+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", p.prefix, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	p.pubsub = pubsub
	p.cancel = cancel
	p.started = true

	p.wg.Add(1)
	go p.listen(listenCtx, pubsub.Channel())
	return nil
}

func (p *RedisPublisher) listen(ctx context.Context, msgs <-chan *redis.Message) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				p.logger.Debug("skip malformed redis event", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == p.origin {
				continue
			}
			p.inner.Publish(env.Event)
		}
	}
}

// Subscribe returns a channel for events of runID from any process.
func (p *RedisPublisher) Subscribe(runID string) <-chan Event {
	return p.inner.Subscribe(runID)
}

// Unsubscribe removes a subscription channel.
func (p *RedisPublisher) Unsubscribe(runID string, ch <-chan Event) {
	p.inner.Unsubscribe(runID, ch)
}

// Close stops the listener and closes local subscriptions. The Redis
// client stays open; it belongs to the caller.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if p.started {
		p.cancel()
		_ = p.pubsub.Close()
		p.started = false
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.inner.Close()
}
