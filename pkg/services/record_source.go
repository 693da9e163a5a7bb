package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// RecordSource exposes one entity domain's records to the engine.
//
// FindCandidates returns records created at or before now-delay that
// satisfy the condition, capped at limit. The age boundary is inclusive:
// a record exactly delay old is eligible, and with a zero delay a record
// created in the same instant as the pass is eligible too. The condition
// may be applied store-side or via MatchesCondition; either way the
// pass-through semantics for empty conditions apply.
type RecordSource interface {
	FindCandidates(ctx context.Context, cond *models.Condition, delay time.Duration, now time.Time, limit int) ([]models.TargetRecord, error)
}

// SourceRegistry maps trigger entity types to their record source
// adapters. Adding an entity domain is a registration, not a code change
// in the engine.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[models.TriggerEntity]RecordSource
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[models.TriggerEntity]RecordSource)}
}

// Register installs the adapter for an entity type, replacing any
// previous registration.
func (r *SourceRegistry) Register(entity models.TriggerEntity, source RecordSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[entity] = source
}

// Lookup returns the adapter for an entity type.
func (r *SourceRegistry) Lookup(entity models.TriggerEntity) (RecordSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[entity]
	return source, ok
}

// Entities returns the registered entity types.
func (r *SourceRegistry) Entities() []models.TriggerEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]models.TriggerEntity, 0, len(r.sources))
	for e := range r.sources {
		entities = append(entities, e)
	}
	return entities
}

// FindCandidates dispatches to the registered adapter. A rule carrying an
// unknown entity type is inert rather than fatal: it yields no candidates
// and no error.
func (r *SourceRegistry) FindCandidates(ctx context.Context, entity models.TriggerEntity, cond *models.Condition, delay time.Duration, now time.Time, limit int) ([]models.TargetRecord, error) {
	source, ok := r.Lookup(entity)
	if !ok {
		logrus.Warnf("No record source registered for entity type %q, rule yields no candidates", entity)
		return nil, nil
	}
	return source.FindCandidates(ctx, cond, delay, now, limit)
}
