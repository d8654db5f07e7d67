package journal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/imgcached/internal/config"
)

func setupTestSink(t *testing.T, limit int) *RedisSink {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	sink, err := OpenRedis(cfg, limit)
	if err != nil {
		t.Fatalf("Failed to open redis sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	return sink
}

func TestRedisSink_RecordAndRecent(t *testing.T) {
	sink := setupTestSink(t, 100)
	ctx := context.Background()

	ev := Event{
		Time:      time.Now().UTC().Truncate(time.Second),
		Kind:      KindAcquire,
		Image:     "ubuntu:22.04",
		Container: "web-1",
		Outcome:   "admitted",
	}

	if err := sink.Record(ctx, ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindAcquire {
		t.Errorf("Expected kind %q, got %q", KindAcquire, events[0].Kind)
	}
	if events[0].Image != ev.Image {
		t.Errorf("Expected image %q, got %q", ev.Image, events[0].Image)
	}
	if events[0].Container != ev.Container {
		t.Errorf("Expected container %q, got %q", ev.Container, events[0].Container)
	}
}

func TestRedisSink_NewestFirst(t *testing.T) {
	sink := setupTestSink(t, 100)
	ctx := context.Background()

	for _, image := range []string{"first", "second", "third"} {
		ev := Event{Time: time.Now(), Kind: KindEvict, Image: image}
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	events, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Image != "third" || events[1].Image != "second" {
		t.Errorf("Expected newest-first order, got %q then %q", events[0].Image, events[1].Image)
	}
}

func TestRedisSink_TrimsToHistoryLimit(t *testing.T) {
	sink := setupTestSink(t, 3)
	ctx := context.Background()

	for _, image := range []string{"a", "b", "c", "d", "e"} {
		ev := Event{Time: time.Now(), Kind: KindRelease, Image: image}
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	events, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("Expected journal trimmed to 3 events, got %d", len(events))
	}
	if events[0].Image != "e" {
		t.Errorf("Expected newest event 'e', got %q", events[0].Image)
	}
	if events[2].Image != "c" {
		t.Errorf("Expected oldest retained event 'c', got %q", events[2].Image)
	}
}
