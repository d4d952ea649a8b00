// Package events publishes protocol audit events over Redis pub/sub.
// Consumers (tally observers, monitoring) subscribe out of band; publishing
// is best-effort and the protocol never depends on delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Type string

const (
	IdentityRegistered Type = "identity.registered"
	VoteRecorded       Type = "vote.recorded"
	AdminApplied       Type = "admin.applied"
	KeysRotated        Type = "keys.rotated"
)

// Payload carries only public protocol values; no private witness data ever
// appears here.
type Payload struct {
	Domain     string `json:"domain,omitempty"`
	Nullifier  string `json:"nullifier,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Circuit    string `json:"circuit,omitempty"`
	Version    int    `json:"version,omitempty"`
}

type Event struct {
	Type      Type    `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Payload   Payload `json:"payload"`
}

// Config holds Redis connection settings for the bus.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Enabled      bool
}

// Bus is a Redis-backed publisher/subscriber for audit events. When disabled
// (by config or because Redis is unreachable at startup) every operation is
// a no-op, so callers never branch on availability.
type Bus struct {
	redis   *redis.Client
	logger  *zap.Logger
	enabled bool

	mu     sync.Mutex
	cancel context.CancelFunc
	ctx    context.Context
}

// NewBus connects to Redis. An unreachable broker degrades to a disabled bus
// rather than failing startup; audit events are not load-bearing.
func NewBus(cfg Config, logger *zap.Logger) *Bus {
	if !cfg.Enabled {
		logger.Info("Audit event bus disabled")
		return &Bus{logger: logger}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Audit event bus Redis unreachable, continuing without it",
			zap.String("addr", cfg.Addr),
			zap.Error(err),
		)
		_ = client.Close()
		return &Bus{logger: logger}
	}

	ctx, cancelAll := context.WithCancel(context.Background())

	logger.Info("Audit event bus connected", zap.String("addr", cfg.Addr))
	return &Bus{
		redis:   client,
		logger:  logger,
		enabled: true,
		ctx:     ctx,
		cancel:  cancelAll,
	}
}

func channelFor(t Type) string {
	return fmt.Sprintf("zkvote:audit:%s", t)
}

// Publish sends an event to subscribers. Failures are logged, not returned
// as fatal; a missing auditor never blocks a protocol transition.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if !b.enabled {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redis.Publish(ctx, channelFor(event.Type), data).Err(); err != nil {
		b.logger.Warn("Failed to publish audit event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return nil
	}

	return nil
}

// Subscribe returns a channel of events for the given types. The channel is
// buffered; slow consumers drop events rather than blocking publishers.
func (b *Bus) Subscribe(ctx context.Context, types ...Type) (<-chan Event, error) {
	if !b.enabled {
		ch := make(chan Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	channels := make([]string, len(types))
	for i, t := range types {
		channels[i] = channelFor(t)
	}

	pubsub := b.redis.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, 64)
	go b.receive(ctx, pubsub, out)

	return out, nil
}

func (b *Bus) receive(ctx context.Context, pubsub *redis.PubSub, out chan Event) {
	defer func() {
		close(out)
		_ = pubsub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		default:
		}

		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || b.ctx.Err() != nil {
				return
			}
			b.logger.Error("Audit event receive error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.logger.Error("Failed to decode audit event", zap.Error(err))
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return
		default:
			b.logger.Warn("Audit event channel full, dropping event",
				zap.String("type", string(event.Type)),
			)
		}
	}
}

// IsEnabled reports whether the bus is operational.
func (b *Bus) IsEnabled() bool {
	return b.enabled
}

// HealthCheck verifies the broker connection.
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.enabled {
		return fmt.Errorf("event bus disabled")
	}
	return b.redis.Ping(ctx).Err()
}

// Close shuts the bus down.
func (b *Bus) Close() error {
	if !b.enabled {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancel()
	return b.redis.Close()
}
