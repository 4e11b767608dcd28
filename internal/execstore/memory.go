package execstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Sweep cadence for the in-memory tier.
const (
	memorySweepInterval = 5 * time.Minute
	memoryRetention     = 25 * time.Minute
)

// MemoryStore is the per-replica fallback tier, used only when the shared
// store endpoint is a local development instance. Records are swept once they
// are memoryRetention past their end time.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	flags   *cancelFlags

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewMemoryStore creates the in-memory tier and starts its sweep goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records:   make(map[string]*Record),
		flags:     newCancelFlags(),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() {
	close(s.stopSweep)
	<-s.sweepDone
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep evicts records whose end time is older than the retention window.
func (s *MemoryStore) sweep(now time.Time) {
	cutoff := now.Add(-memoryRetention).UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if rec.EndTime != 0 && rec.EndTime < cutoff {
			delete(s.records, id)
			s.flags.clear(id)
		}
	}
}

// Init implements Store.
func (s *MemoryStore) Init(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return ErrAlreadyExists
	}
	s.records[id] = newRecord(id, userID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// UpdateProgress implements Store.
func (s *MemoryStore) UpdateProgress(_ context.Context, id string, current, total int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status.Terminal() {
		return nil
	}
	rec.Progress = Progress{
		CurrentStatement:     current,
		TotalStatements:      total,
		CurrentStatementText: text,
	}
	return nil
}

// SavePartial implements Store.
func (s *MemoryStore) SavePartial(_ context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status.Terminal() {
		return nil
	}
	rec.Result = result
	return nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, id string, result json.RawMessage, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == StatusCancelled {
		rec.Result = result
		return nil
	}
	if rec.Status.Terminal() {
		return nil
	}
	if success {
		rec.Status = StatusCompleted
	} else {
		rec.Status = StatusFailed
	}
	rec.Result = result
	rec.EndTime = time.Now().UnixMilli()
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}
	rec.Status = StatusFailed
	rec.Error = errorMessage
	rec.EndTime = time.Now().UnixMilli()
	return nil
}

// MarkCancelled implements Store.
func (s *MemoryStore) MarkCancelled(_ context.Context, id string) error {
	s.flags.set(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil
	}
	rec.Status = StatusCancelled
	rec.EndTime = time.Now().UnixMilli()
	return nil
}

// IsCancelled implements Store.
func (s *MemoryStore) IsCancelled(_ context.Context, id string) bool {
	if s.flags.isSet(id) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return ok && rec.Status == StatusCancelled
}

var _ Store = (*MemoryStore)(nil)
