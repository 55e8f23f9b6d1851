package rules

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()

	rulesPath := writeRules(t, "강남 역 => 강남역\n")
	engine, err := NewEngine(rulesPath, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan error, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, engine, nil, func(err error) { reloaded <- err })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(700 * time.Millisecond)
	defer tick.Stop()

	for engine.Apply("역삼 역") != "역삼역" {
		select {
		case <-tick.C:
			if err := os.WriteFile(rulesPath, []byte("역삼 역 => 역삼역\n"), 0o600); err != nil {
				t.Fatalf("failed to rewrite rules: %v", err)
			}
		case err := <-reloaded:
			if err != nil {
				t.Fatalf("unexpected reload error: %v", err)
			}
		case <-deadline:
			t.Fatalf("rules were not reloaded")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop after cancel")
	}
}

func TestWatchWithoutPathWaitsForCancel(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine("", 0)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, engine, nil, nil) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watch did not return")
	}
}
