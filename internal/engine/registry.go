package engine

import (
	"sync"

	"github.com/opensource-auth/kestrel/internal/domain"
)

// Registry holds the published baseline model for each user.
//
// It is the only shared mutable resource in the trust engine.
// Publication is a single reference swap under the write lock, so a
// concurrent Lookup always observes either the fully-old or fully-new
// model, never a normalizer from one training run paired with a
// detector from another. Trainings for the same user are serialized via
// beginTraining; a user with no published model is the default state,
// not an error.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*domain.UserModel

	trainMu  sync.Mutex
	training map[string]struct{}
}

// NewRegistry creates an empty model registry. One registry is created
// at process start, injected into the engine and torn down at shutdown.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]*domain.UserModel),
		training: make(map[string]struct{}),
	}
}

// Lookup returns the published model for a user, if any.
func (r *Registry) Lookup(userID string) (*domain.UserModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[userID]
	return m, ok
}

// Publish atomically replaces the model for model.UserID.
func (r *Registry) Publish(model *domain.UserModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.UserID] = model
}

// Remove discards the published model for a user.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, userID)
}

// Count returns the number of published models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Users returns the IDs with a published model.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	return ids
}

// beginTraining claims the per-user training slot. At most one Train is
// in flight per user; concurrent attempts fail fast rather than queue.
func (r *Registry) beginTraining(userID string) error {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()
	if _, busy := r.training[userID]; busy {
		return ErrTrainingInProgress
	}
	r.training[userID] = struct{}{}
	return nil
}

// endTraining releases the per-user training slot.
func (r *Registry) endTraining(userID string) {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()
	delete(r.training, userID)
}

// Close clears the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = make(map[string]*domain.UserModel)
	return nil
}
