// Package locks provides per-item try-locks. Lifecycle operations on one
// evidence item are serialized; a second concurrent operation fails fast
// instead of queueing, so callers retry and observe the updated state.
package locks

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// Registry hands out per-item locks keyed by evidence ID
type Registry struct {
	mu   sync.Mutex
	held map[uuid.UUID]string
}

// NewRegistry creates an empty lock registry
func NewRegistry() *Registry {
	return &Registry{held: make(map[uuid.UUID]string)}
}

// Acquire takes the lock for an item or fails with a concurrent-modification
// error naming the operation that holds it.
func (r *Registry) Acquire(itemID uuid.UUID, operation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, taken := r.held[itemID]; taken {
		return errors.NewConcurrentModificationError(fmt.Sprintf(
			"evidence %s is locked by a concurrent %s operation", itemID, holder))
	}

	r.held[itemID] = operation
	return nil
}

// Release frees the lock for an item. Releasing an unheld lock is a no-op.
func (r *Registry) Release(itemID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, itemID)
}

// WithLock runs fn while holding the item lock
func (r *Registry) WithLock(itemID uuid.UUID, operation string, fn func() error) error {
	if err := r.Acquire(itemID, operation); err != nil {
		return err
	}
	defer r.Release(itemID)
	return fn()
}

// Held reports whether an item is currently locked
func (r *Registry) Held(itemID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[itemID]
	return taken
}
