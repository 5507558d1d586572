package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// LocalBroker delivers straight into a hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker { return &LocalBroker{hub: hub} }

func (b *LocalBroker) Publish(ctx context.Context, prefix string) error {
	b.hub.Fire(prefix)
	return nil
}

func (b *LocalBroker) Listen(ctx context.Context, fn func(prefix string)) error {
	<-ctx.Done()
	return nil
}

// RedisBroker fans ready notifications out over Redis pub/sub so API
// replicas wake subscribers for jobs finished by workers elsewhere.
type RedisBroker struct {
	rc      redis.UniversalClient
	channel string
}

// ReadyChannel returns the pub/sub channel name for stream.
func ReadyChannel(stream string) string { return stream + ":ready" }

func NewRedisBroker(rc redis.UniversalClient, channel string) *RedisBroker {
	return &RedisBroker{rc: rc, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, prefix string) error {
	return b.rc.Publish(ctx, b.channel, prefix).Err()
}

func (b *RedisBroker) Listen(ctx context.Context, fn func(prefix string)) error {
	ps := b.rc.Subscribe(ctx, b.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed before relaying.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

var (
	_ Broker = (*LocalBroker)(nil)
	_ Broker = (*RedisBroker)(nil)
)
