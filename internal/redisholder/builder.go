package redisholder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/thumbhub/internal/config"
)

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Build connects to Redis, preferring a cluster client and falling back to
// the first reachable single node, and keeps the connection healthy until
// ctx is done.
func Build(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Holder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis")

	cl, err := connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	h := NewHolder(cl)

	go healthLoop(ctx, h, cfg, logger)

	return h, nil
}

func connect(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	cl, err := newClusterClient(ctx, cfg)
	if err == nil {
		return cl, nil
	}
	clusterErr := err

	single, err := newClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	logger.Info("cluster client failed, using single-node client", "err", clusterErr)
	return single, nil
}

func healthLoop(ctx context.Context, h *Holder, cfg *config.RedisConfig, logger *slog.Logger) {
	interval := seconds(cfg.HealthCheckIntervalSec)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger.Info("health loop started", "interval", interval)

	ping := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.Get().Ping(pingCtx).Err()
		cancel()

		if err == nil || ctx.Err() != nil {
			return
		}
		logger.Warn("ping failed, attempting reconnect", "err", err)

		newCl, err := connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("reconnect failed", "err", err)
			return
		}

		if old := h.swap(newCl); old != nil {
			_ = old.Close()
		}
		logger.Info("reconnected")
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = h.Close()
			logger.Info("health loop stopped", "err", ctx.Err())
			return
		case <-t.C:
			ping()
		}
	}
}

func newClusterClient(ctx context.Context, cfg *config.RedisConfig) (*redis.ClusterClient, error) {
	addrs := cfg.Addresses()
	if len(addrs) < 2 {
		return nil, errors.New("cluster needs at least two nodes")
	}

	cl := redis.NewClusterClient(&redis.ClusterOptions{
		RouteByLatency: true,
		Password:       cfg.Password,
		Addrs:          addrs,
		DialTimeout:    seconds(cfg.DialTimeoutSec),
		ReadTimeout:    seconds(cfg.ReadTimeoutSec),
		WriteTimeout:   seconds(cfg.WriteTimeoutSec),
		PoolSize:       cfg.PoolSize,
		PoolTimeout:    30 * time.Second,
		MaxRetries:     30,
	})

	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("error pinging redis cluster: %w", err)
	}

	return cl, nil
}

func newClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	var stickyErr = errors.New("no nodes defined")

	for _, addr := range cfg.Addresses() {
		cl := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DatabaseID,
			DialTimeout:  seconds(cfg.DialTimeoutSec),
			ReadTimeout:  seconds(cfg.ReadTimeoutSec),
			WriteTimeout: seconds(cfg.WriteTimeoutSec),
			PoolSize:     cfg.PoolSize,
		})

		if err := cl.Ping(ctx).Err(); err != nil {
			_ = cl.Close()
			stickyErr = fmt.Errorf("error pinging redis server %s: %w", addr, err)
			continue
		}

		return cl, nil
	}

	return nil, stickyErr
}
