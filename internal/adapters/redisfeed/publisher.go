// Package redisfeed publishes presence events to a Redis channel.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(addr, channel string) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	log.Info().Str("module", "redisfeed").Str("addr", addr).Str("channel", channel).Msg("presence publisher ready")
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Channel() string { return p.channel }

// Ping checks the server is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Publisher) Publish(ctx context.Context, ev domain.PresenceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
