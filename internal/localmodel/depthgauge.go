package localmodel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DepthPublisher mirrors a Pool's queue depth and active worker count into
// Redis, so that a multi-process deployment can see pool saturation
// across the fleet rather than only the one process a given HTTP request
// landed on. Grounded on the redis pub/sub client setup in
// realtime/bus/redis_bus.go (NewClient + context-bounded Ping), generalized
// from pub/sub to a periodic SET with expiry since a gauge has no
// subscriber-side logic to run.
type DepthPublisher struct {
	rdb    *goredis.Client
	key    string
	pool   *Pool
	stopCh chan struct{}
}

// NewDepthPublisher dials redisURL and returns a DepthPublisher keyed under
// keyPrefix. A nil *DepthPublisher (returned alongside a non-nil error,
// which includes an empty redisURL failing to parse) is always safe to call
// Stop on.
func NewDepthPublisher(redisURL, keyPrefix string, pool *Pool) (*DepthPublisher, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("localmodel.NewDepthPublisher: parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("localmodel.NewDepthPublisher: ping: %w", err)
	}

	return &DepthPublisher{
		rdb:    rdb,
		key:    keyPrefix + ":localmodel:queue_depth",
		pool:   pool,
		stopCh: make(chan struct{}),
	}, nil
}

// Run publishes the pool's queue depth and active worker count every
// interval until Stop is called. Intended to run in its own goroutine.
func (d *DepthPublisher) Run(interval time.Duration) {
	if d == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			depth := d.pool.QueueDepth()
			active := d.pool.ActiveWorkers()
			pipe := d.rdb.Pipeline()
			pipe.Set(ctx, d.key+":depth", depth, interval*3)
			pipe.Set(ctx, d.key+":active", active, interval*3)
			if _, err := pipe.Exec(ctx); err != nil {
				slog.Warn("localmodel depth publish failed", "error", err)
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}

// Stop halts publishing and closes the Redis client. Safe to call on a
// nil receiver.
func (d *DepthPublisher) Stop() {
	if d == nil {
		return
	}
	close(d.stopCh)
	_ = d.rdb.Close()
}
