package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
)

// Notifier wakes idle workers when new work is enqueued. Notifications are
// hints only; workers still poll.
type Notifier interface {
	Notify(ctx context.Context) error
	// Wake delivers one value per coalesced batch of notifications.
	Wake() <-chan struct{}
	Close() error
}

// LocalNotifier signals workers in the same process.
type LocalNotifier struct {
	ch chan struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{ch: make(chan struct{}, 1)}
}

func (n *LocalNotifier) Notify(ctx context.Context) error {
	n.signal()
	return nil
}

func (n *LocalNotifier) signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *LocalNotifier) Wake() <-chan struct{} { return n.ch }

func (n *LocalNotifier) Close() error { return nil }

// RedisNotifier publishes wake-ups on a Redis channel so worker processes
// sharing one database all see them.
type RedisNotifier struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	local   *LocalNotifier
}

// NewRedisNotifier connects, subscribes to channel and starts forwarding
// messages to Wake.
func NewRedisNotifier(ctx context.Context, opts *redis.Options, channel string) (*RedisNotifier, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, err
	}

	n := &RedisNotifier{client: client, pubsub: pubsub, channel: channel, local: NewLocalNotifier()}
	go n.forward()
	return n, nil
}

func (n *RedisNotifier) forward() {
	for range n.pubsub.Channel() {
		n.local.signal()
	}
	log.WithField("channel", n.channel).Debug("redis notifier subscription closed")
}

func (n *RedisNotifier) Notify(ctx context.Context) error {
	return n.client.Publish(ctx, n.channel, "enqueued").Err()
}

func (n *RedisNotifier) Wake() <-chan struct{} { return n.local.Wake() }

func (n *RedisNotifier) Close() error {
	err := n.pubsub.Close()
	if cerr := n.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// NotifierFromConfig returns a RedisNotifier when redis.addr is set and a
// LocalNotifier otherwise. A Redis connection failure falls back to local
// wake-ups with a warning.
func NotifierFromConfig(ctx context.Context, cfg *config.Config) Notifier {
	if cfg.Redis.Addr == "" {
		return NewLocalNotifier()
	}
	channel := cfg.Redis.Channel
	if channel == "" {
		channel = "setlist:queue"
	}
	n, err := NewRedisNotifier(ctx, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, channel)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unavailable, using in-process queue notifications")
		return NewLocalNotifier()
	}
	log.WithField("addr", cfg.Redis.Addr).Info("queue notifications over redis")
	return n
}
