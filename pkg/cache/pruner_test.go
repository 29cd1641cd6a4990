package cache

import (
	"context"
	"testing"
	"time"
)

func TestPrunerRunsOnSchedule(t *testing.T) {
	l2 := newFakeL2()
	c := New(Options{L1MaxSize: 10, L2: l2})

	base := time.Now()
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	ctx := context.Background()
	c.Set("expired_fn", map[string]any{"a": 1}, "result", "string", SetOptions{TTLSeconds: 1})
	nowFunc = func() time.Time { return base.Add(time.Hour) }

	p := NewPruner(c, 20*time.Millisecond, nil)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for {
		stats, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.L1Entries == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expired entry was not pruned in time, L1Entries=%d", stats.L1Entries)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPrunerStopReturnsWithNoRunPending(t *testing.T) {
	l2 := newFakeL2()
	c := New(Options{L1MaxSize: 10, L2: l2})

	p := NewPruner(c, time.Hour, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop() // must return promptly even though no run has fired yet
}
