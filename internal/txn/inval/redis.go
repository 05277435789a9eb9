package inval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultChannel = "novacat:inval"

type RedisOptions struct {
	Endpoint string `mapstructure:"endpoint" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel"`
}

// RedisBroadcaster fans invalidations out to every process subscribed to the
// channel. A message batch is one msgpack-encoded publish.
type RedisBroadcaster struct {
	handlers

	client  *redis.Client
	pubsub  *redis.PubSub
	channel string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRedisBroadcaster(ctx context.Context, opts *RedisOptions) (*RedisBroadcaster, error) {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Endpoint,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "inval: redis ping")
	}

	pubsub := client.Subscribe(ctx, channel)
	// wait for the subscription confirmation so nothing published after
	// construction is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "inval: redis subscribe")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBroadcaster{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		cancel:  cancel,
	}
	b.wg.Add(1)
	go b.loop(loopCtx)
	return b, nil
}

func (b *RedisBroadcaster) loop(ctx context.Context) {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msgs []Message
			if err := msgpack.Unmarshal([]byte(m.Payload), &msgs); err != nil {
				slog.Warn("inval: bad payload", "channel", m.Channel, "err", err)
				continue
			}
			b.dispatch(msgs)
		}
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	payload, err := msgpack.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "inval: encode")
	}
	return errors.Wrap(b.client.Publish(ctx, b.channel, payload).Err(), "inval: publish")
}

func (b *RedisBroadcaster) Subscribe(h Handler) func() {
	return b.add(h)
}

func (b *RedisBroadcaster) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
