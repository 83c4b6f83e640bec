package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/osobh/parley/internal/v1/metrics"
)

// RedisBus federates rooms through a Redis pub/sub channel. One channel
// carries all rooms of a logical deployment; receivers filter by room.
type RedisBus struct {
	client  *redis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
}

var _ Bus = (*RedisBus)(nil)

// Client returns the underlying Redis client.
func (b *RedisBus) Client() *redis.Client {
	if b == nil {
		return nil
	}
	return b.client
}

// NewRedisBus creates a robust Redis connection with a circuit breaker.
func NewRedisBus(addr, password, channel string) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis pub/sub", "addr", addr, "channel", channel)
	return &RedisBus{
		client:  rdb,
		channel: channel,
		cb:      gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish broadcasts a federated message to all other nodes on the channel.
func (b *RedisBus) Publish(ctx context.Context, m Message) error {
	if b == nil || b.client == nil {
		return nil // Single-node mode, no Redis available
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bus envelope: %w", err)
		}
		return nil, b.client.Publish(ctx, b.channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis circuit breaker open: dropping publish", "messageId", m.MessageID)
			return nil // Graceful degradation: drop message, don't crash caller
		}
		slog.Error("Redis publish failed", "messageId", m.MessageID, "error", err)
		return err
	}

	metrics.BusPublished.Inc()
	return nil
}

// Subscribe starts a background goroutine that listens for messages
// from other nodes. The returned function tears the subscription down;
// cancelling ctx does the same.
func (b *RedisBus) Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Message)) (unsubscribe func()) {
	if b == nil || b.client == nil {
		return func() {} // Single-node mode, no Redis available
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(subCtx, b.channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", b.channel)

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or the connection dies
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", b.channel)
					return
				}

				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					slog.Error("Failed to unmarshal bus message", "error", err, "raw", msg.Payload)
					continue
				}

				handler(m)
			}
		}
	}()

	return cancel
}

// Ping checks Redis connectivity using the PING command.
// Used by health checks to verify Redis is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil // Single-node mode, no Redis available
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil // Single-node mode, no Redis available
	}
	return b.client.Close()
}
