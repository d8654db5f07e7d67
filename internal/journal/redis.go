package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodtune/imgcached/internal/config"
	"github.com/goodtune/imgcached/internal/metrics"
)

// eventsKey is the redis list the sink pushes to. Newest event first.
const eventsKey = "imgcached:journal"

// RedisSink records events to a capped redis list.
type RedisSink struct {
	client *redis.Client
	limit  int64
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(cfg config.RedisConfig, historyLimit int) (*RedisSink, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: client, limit: int64(historyLimit)}, nil
}

// Record pushes the event and trims the list to the history limit.
func (s *RedisSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, eventsKey, payload)
	pipe.LTrim(ctx, eventsKey, 0, s.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record journal event: %w", err)
	}

	metrics.JournalEventsTotal.WithLabelValues(ev.Kind).Inc()
	return nil
}

// Recent returns up to n of the newest events, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Event, error) {
	raw, err := s.client.LRange(ctx, eventsKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to parse journal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close closes the redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
