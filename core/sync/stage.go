package sync

import (
	"context"
	gosync "sync"
)

// BatchStage holds inbound batches of a session until the sequence is complete.
type BatchStage interface {
	// Put stores a batch. Storing the same index twice keeps both copies;
	// Reassemble decides whether they agree.
	Put(ctx context.Context, sessionID string, batch Batch) error

	// List returns every batch stored for the session.
	List(ctx context.Context, sessionID string) ([]Batch, error)

	// Drop removes every batch of the session.
	Drop(ctx context.Context, sessionID string) error
}

// MemoryStage keeps batches in process memory.
type MemoryStage struct {
	mu      gosync.Mutex
	batches map[string][]Batch
}

// NewMemoryStage creates an empty in-memory stage.
func NewMemoryStage() *MemoryStage {
	return &MemoryStage{batches: make(map[string][]Batch)}
}

// Put implements BatchStage.
func (s *MemoryStage) Put(ctx context.Context, sessionID string, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[sessionID] = append(s.batches[sessionID], batch)
	return nil
}

// List implements BatchStage.
func (s *MemoryStage) List(ctx context.Context, sessionID string) ([]Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches[sessionID]...), nil
}

// Drop implements BatchStage.
func (s *MemoryStage) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, sessionID)
	return nil
}
