package session

import (
	"context"
	"sync"
	"time"
)

// Registry records when each session was last used.
type Registry interface {
	Touch(ctx context.Context, token string) error
	// Expired returns the sessions last used before cutoff.
	Expired(ctx context.Context, cutoff time.Time) ([]string, error)
	Forget(ctx context.Context, token string) error
}

// MemoryRegistry is a Registry kept in process memory.
type MemoryRegistry struct {
	mu       sync.Mutex
	lastUsed map[string]time.Time
	now      func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		lastUsed: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (r *MemoryRegistry) Touch(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed[token] = r.now()
	return nil
}

func (r *MemoryRegistry) Expired(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tokens []string
	for token, last := range r.lastUsed {
		if last.Before(cutoff) {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (r *MemoryRegistry) Forget(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastUsed, token)
	return nil
}
