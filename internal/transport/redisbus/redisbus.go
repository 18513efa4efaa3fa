// Package redisbus carries event channels over Redis pub/sub.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "chzpuri:"

// Bus is an ingress Transport and Publisher over one Redis client.
// Channel names are namespaced with a prefix.
type Bus struct {
	client *redis.Client
	prefix string

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// Open connects to url, overriding its password when one is given, and
// checks the connection.
func Open(ctx context.Context, url, password, prefix string) (*Bus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opt.Password = password
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, prefix), nil
}

func New(client *redis.Client, prefix string) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{client: client, prefix: prefix, subs: make(map[*redis.PubSub]struct{})}
}

// Key returns the Redis channel used for channel.
func (b *Bus) Key(channel string) string { return b.prefix + channel }

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, b.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Listen subscribes to channel and calls fn for each message in arrival
// order. It returns once Redis has confirmed the subscription.
func (b *Bus) Listen(ctx context.Context, channel string, fn func([]byte)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.Key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			if err := ps.Close(); err != nil {
				slog.Debug("redisbus: close subscription", "channel", channel, "err", err)
			}
			<-done
		})
	}, nil
}

// Close ends every subscription and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return b.client.Close()
}

// Ping reports whether Redis is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
