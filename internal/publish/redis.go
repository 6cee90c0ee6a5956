// Package publish pushes series snapshots to Redis pubsub channels for
// downstream chart consumers. The pipeline treats it as a renderer sink:
// it only ever sees immutable snapshot copies.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	goredis "github.com/go-redis/redis/v8"

	"marketstream/internal/model"
)

const channelPrefix = "pub:series:"

// Config configures the Redis publisher.
type Config struct {
	Addr     string
	Password string
}

// Publisher publishes one JSON message per series snapshot to
// "pub:series:<group>:<name>".
type Publisher struct {
	rdb *goredis.Client
	ctx context.Context

	// OnError is called when a publish fails. Optional.
	OnError func(error)
}

// New connects to Redis and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[publish] redis connected at %s", cfg.Addr)
	return &Publisher{rdb: rdb, ctx: ctx}, nil
}

type snapshotMsg struct {
	Series string        `json:"series"`
	Points []model.Point `json:"points"`
}

// Render implements pipeline.Renderer. Publish failures are logged and
// surfaced via OnError; they never propagate back into the pipeline.
func (p *Publisher) Render(series map[string][]model.Point) {
	for name, points := range series {
		payload, err := json.Marshal(snapshotMsg{Series: name, Points: points})
		if err != nil {
			continue
		}
		if err := p.rdb.Publish(p.ctx, channelPrefix+name, payload).Err(); err != nil {
			log.Printf("[publish] %s: %v", name, err)
			if p.OnError != nil {
				p.OnError(err)
			}
			return
		}
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client {
	return p.rdb
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
