package store

import (
	"context"
	"sync"
)

// CancelRegistry holds per-session cancellation flags set from outside the
// running job. The pipeline polls IsCancelled between steps.
type CancelRegistry interface {
	Cancel(ctx context.Context, sessionID string) error
	Reset(ctx context.Context, sessionID string) error
	IsCancelled(ctx context.Context, sessionID string) (bool, error)
}

// MemoryCancelRegistry is an in-process CancelRegistry.
type MemoryCancelRegistry struct {
	mu    sync.RWMutex
	flags map[string]struct{}
}

var _ CancelRegistry = (*MemoryCancelRegistry)(nil)

func NewMemoryCancelRegistry() *MemoryCancelRegistry {
	return &MemoryCancelRegistry{flags: make(map[string]struct{})}
}

func (r *MemoryCancelRegistry) Cancel(_ context.Context, sessionID string) error {
	r.mu.Lock()
	r.flags[sessionID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *MemoryCancelRegistry) Reset(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.flags, sessionID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryCancelRegistry) IsCancelled(_ context.Context, sessionID string) (bool, error) {
	r.mu.RLock()
	_, ok := r.flags[sessionID]
	r.mu.RUnlock()
	return ok, nil
}
