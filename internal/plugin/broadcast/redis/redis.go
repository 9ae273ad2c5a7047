package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
	goredis "github.com/redis/go-redis/v9"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrybroadcast.Register(registrybroadcast.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrybroadcast.Bus, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis broadcast: CHAT_SERVICE_REDIS_URL is required")
	}
	return Connect(ctx, cfg.RedisURL, cfg.RedisChannel)
}

// Bus relays envelopes through a Redis pub/sub channel so every replica
// delivers to its own live connections.
type Bus struct {
	client  *goredis.Client
	pubsub  *goredis.PubSub
	channel string

	once    sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
	handler registrybroadcast.Handler
}

// Connect opens the client and confirms the channel subscription.
func Connect(ctx context.Context, redisURL, channel string) (*Bus, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis broadcast: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis broadcast: ping failed: %w", err)
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis broadcast: subscribe failed: %w", err)
	}
	return &Bus{client: client, pubsub: pubsub, channel: channel, done: make(chan struct{})}, nil
}

func (b *Bus) Publish(ctx context.Context, env registrybroadcast.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis broadcast: encode: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis broadcast: publish: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(handler registrybroadcast.Handler) {
	b.once.Do(func() {
		b.handler = handler
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.run(ctx)
	})
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env registrybroadcast.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("Dropping malformed room event", "channel", b.channel, "err", err)
				continue
			}
			b.handler(env)
		}
	}
}

func (b *Bus) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	err := b.pubsub.Close()
	if b.cancel != nil {
		<-b.done
	}
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ registrybroadcast.Bus = (*Bus)(nil)
