package tracker

import (
	"context"
	"testing"
)

func TestMemoryStoreLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	row := QueryLog{QueryID: "q1", CallerID: "caller-1", Status: StatusRunning}
	if err := store.LogStart(ctx, row); err != nil {
		t.Fatalf("LogStart: %v", err)
	}

	cost := 0.02
	tokensIn := 100
	if err := store.LogComplete(ctx, "q1", Completion{
		Status:        StatusCompleted,
		TotalCost:     &cost,
		TotalTokensIn: &tokensIn,
	}); err != nil {
		t.Fatalf("LogComplete: %v", err)
	}

	summary, err := store.AggregateCosts(ctx, "caller-1")
	if err != nil {
		t.Fatalf("AggregateCosts: %v", err)
	}
	if summary.TotalCost != 0.02 || summary.TotalTokensIn != 100 {
		t.Fatalf("got %+v", summary)
	}
}

func TestMemoryStoreCountersAccumulate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		if err := store.IncrementCacheHit(ctx, "caller-2"); err != nil {
			t.Fatalf("IncrementCacheHit: %v", err)
		}
	}
	if err := store.IncrementCacheMiss(ctx, "caller-2"); err != nil {
		t.Fatalf("IncrementCacheMiss: %v", err)
	}
	if err := store.IncrementLLMCall(ctx, "caller-2"); err != nil {
		t.Fatalf("IncrementLLMCall: %v", err)
	}

	summary, err := store.AggregateCosts(ctx, "caller-2")
	if err != nil {
		t.Fatalf("AggregateCosts: %v", err)
	}
	if summary.LLMCallsCount != 1 {
		t.Fatalf("got %+v", summary)
	}
}

func TestMemoryStoreLogErrorMarksRow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.LogStart(ctx, QueryLog{QueryID: "q2", CallerID: "caller-3"}); err != nil {
		t.Fatalf("LogStart: %v", err)
	}
	if err := store.LogError(ctx, "q2", "boom"); err != nil {
		t.Fatalf("LogError: %v", err)
	}

	ms := store.(*memoryStore)
	ms.mu.Lock()
	row := ms.rows["q2"]
	ms.mu.Unlock()
	if row.Status != StatusError || row.ErrorMessage != "boom" {
		t.Fatalf("got %+v", row)
	}
}
