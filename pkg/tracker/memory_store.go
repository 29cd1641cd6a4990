package tracker

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store, used when TrackerConfig.Backend is
// "memory" (the default for a standalone run with no ClickHouse DSN
// configured). It keeps the same lifecycle-row/counter shape as
// clickHouseStore but holds everything in a mutex-guarded map, matching the
// L1 in-process cache's locking pattern rather than introducing a new one.
type memoryStore struct {
	mu        sync.Mutex
	rows      map[string]QueryLog
	cacheHits map[string]int
	cacheMiss map[string]int
	llmCalls  map[string]int
	totalCost map[string]float64
	tokensIn  map[string]int
	tokensOut map[string]int
}

// NewMemoryStore builds a Store that keeps everything in process memory.
// Restarting the process loses all lifecycle rows and counters.
func NewMemoryStore() Store {
	return &memoryStore{
		rows:      make(map[string]QueryLog),
		cacheHits: make(map[string]int),
		cacheMiss: make(map[string]int),
		llmCalls:  make(map[string]int),
		totalCost: make(map[string]float64),
		tokensIn:  make(map[string]int),
		tokensOut: make(map[string]int),
	}
}

func (m *memoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *memoryStore) LogStart(ctx context.Context, row QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.QueryID] = row
	return nil
}

func (m *memoryStore) LogComplete(ctx context.Context, queryID string, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[queryID]
	if !ok {
		return nil
	}
	row.Status = c.Status
	if c.RowsOutput != nil {
		row.RowsOutput = *c.RowsOutput
	}
	if c.DurationMS != nil {
		row.DurationMS = *c.DurationMS
	}
	if c.TotalCost != nil {
		row.TotalCost = *c.TotalCost
		m.totalCost[row.CallerID] += *c.TotalCost
	}
	if c.TotalTokensIn != nil {
		row.TotalTokensIn = *c.TotalTokensIn
		m.tokensIn[row.CallerID] += *c.TotalTokensIn
	}
	if c.TotalTokensOut != nil {
		row.TotalTokensOut = *c.TotalTokensOut
		m.tokensOut[row.CallerID] += *c.TotalTokensOut
	}
	if c.LLMCallsCount != nil {
		row.LLMCallsCount = *c.LLMCallsCount
	}
	row.CompletedAt = nowFunc()
	m.rows[queryID] = row
	return nil
}

func (m *memoryStore) LogError(ctx context.Context, queryID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[queryID]
	if !ok {
		return nil
	}
	row.Status = StatusError
	row.ErrorMessage = errorMessage
	row.CompletedAt = nowFunc()
	m.rows[queryID] = row
	return nil
}

func (m *memoryStore) IncrementCacheHit(ctx context.Context, callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits[callerID]++
	return nil
}

func (m *memoryStore) IncrementCacheMiss(ctx context.Context, callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMiss[callerID]++
	return nil
}

func (m *memoryStore) IncrementLLMCall(ctx context.Context, callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls[callerID]++
	return nil
}

func (m *memoryStore) AggregateCosts(ctx context.Context, callerID string) (CostSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CostSummary{
		TotalCost:      m.totalCost[callerID],
		TotalTokensIn:  m.tokensIn[callerID],
		TotalTokensOut: m.tokensOut[callerID],
		LLMCallsCount:  m.llmCalls[callerID],
	}, nil
}

func (m *memoryStore) Close() error { return nil }
