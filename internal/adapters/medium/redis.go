package medium

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis carries discovery messages over a Redis pub/sub channel, for
// endpoints that share a broker rather than a link-local network.
type Redis struct {
	node    string
	channel string
	client  *redis.Client
	sub     *redis.PubSub
	in      *inbox
}

func NewRedis(ctx context.Context, addr, channel, node string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	sub := client.Subscribe(ctx, channel)
	// wait for the subscription so nothing published after return is missed
	if _, err := sub.Receive(pingCtx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	r := &Redis{node: node, channel: channel, client: client, sub: sub, in: newInbox()}
	go r.readLoop()
	log.Info().Str("module", "medium").Str("addr", addr).Str("channel", channel).Msg("redis medium subscribed")
	return r, nil
}

func (r *Redis) Publish(ctx context.Context, msg discovery.Message) error {
	b, err := json.Marshal(envelope{Node: r.node, Msg: msg})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

func (r *Redis) Messages() <-chan discovery.Message { return r.in.ch }

func (r *Redis) Close() error {
	err := r.sub.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *Redis) readLoop() {
	defer r.in.close()
	for msg := range r.sub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Debug().Err(err).Str("module", "medium").Msg("bad redis payload")
			continue
		}
		if env.Node == r.node {
			continue
		}
		r.in.deliver(env.Msg)
	}
}
