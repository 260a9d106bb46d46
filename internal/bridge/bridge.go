// Package bridge replicates routed events across hub instances through a
// Redis pub/sub channel. Every instance publishes the events it routes and
// replays the events published by the others, so a room broadcast reaches
// members connected anywhere.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deliverly/go-fanout/internal/hub"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// frame wraps an event with the origin instance id so an instance can skip
// its own publications.
type frame struct {
	Origin string    `json:"origin"`
	Event  hub.Event `json:"event"`
}

type Bridge struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	router     *hub.Router
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func New(ctx context.Context, logger *slog.Logger, addr, password string, db int, channel string, router *hub.Router) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	b := &Bridge{
		rdb:        rdb,
		channel:    channel,
		instanceID: uuid.New().String(),
		router:     router,
		logger:     logger.With(slog.String("component", "redis_bridge")),
	}
	b.logger.Info("Redis bridge connected",
		slog.String("addr", addr),
		slog.String("channel", channel),
		slog.String("instanceID", b.instanceID),
	)
	return b, nil
}

// Publish sends a locally-routed event to the shared channel. Failures are
// logged and dropped; local delivery already happened.
func (b *Bridge) Publish(ev hub.Event) {
	data, err := json.Marshal(frame{Origin: b.instanceID, Event: ev})
	if err != nil {
		b.logger.Error("failed to marshal bridge frame", slog.Any("error", err))
		return
	}
	if err := b.rdb.Publish(context.Background(), b.channel, data).Err(); err != nil {
		b.logger.Error("failed to publish event", slog.Any("error", err))
	}
}

// Run subscribes to the shared channel and replays remote events through
// the local router until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, b.channel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f frame
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					b.logger.Warn("discarding malformed bridge frame", slog.Any("error", err))
					continue
				}
				if f.Origin == b.instanceID {
					continue
				}
				b.router.RouteRemote(f.Event)

			case <-ctx.Done():
				sub.Close()
				return
			}
		}
	}()
}

func (b *Bridge) Close() error {
	b.wg.Wait()
	return b.rdb.Close()
}
