package application

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
)

// WeightRegistry publishes the current WeightSet. Readers take a lock-free
// snapshot; writers build a new set and swap it in, so a fusion that has
// already read its weights is never affected by a concurrent update.
type WeightRegistry struct {
	current atomic.Pointer[domain.WeightSet]

	// mu serialises writers so versions increase by exactly one.
	mu  sync.Mutex
	now func() time.Time
}

// NewWeightRegistry creates a registry publishing initial.
func NewWeightRegistry(initial *domain.WeightSet) *WeightRegistry {
	r := &WeightRegistry{now: time.Now}
	if initial == nil {
		initial = &domain.WeightSet{Skills: map[string]domain.FusionWeights{}, LoadedAt: r.now()}
	}
	r.current.Store(initial)
	return r
}

// Current returns the published set. Callers must not modify it.
func (r *WeightRegistry) Current() *domain.WeightSet {
	return r.current.Load()
}

// Snapshot returns the weights for skill together with the version they
// belong to.
func (r *WeightRegistry) Snapshot(skill string) (domain.WeightSnapshot, bool) {
	ws := r.current.Load()
	w, ok := ws.For(skill)
	if !ok {
		return domain.WeightSnapshot{}, false
	}
	return domain.WeightSnapshot{Version: ws.Version, Weights: w}, true
}

// Update replaces one configured skill's weights and returns the new
// version. Weights for unknown skills are rejected; a skill is added by
// configuration, where its schema and profile are defined too.
func (r *WeightRegistry) Update(skill string, weights domain.FusionWeights) (int64, error) {
	if err := weights.Validate(); err != nil {
		return 0, err
	}
	if weights.Total() <= 0 {
		return 0, fmt.Errorf("%w: weights for %s must include a positive value", domain.ErrInvalidConfiguration, skill)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current.Load()
	if _, ok := cur.Skills[skill]; !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownSkill, skill)
	}
	next := cur.With(skill, weights, r.now())
	r.current.Store(next)
	return next.Version, nil
}

// Replace publishes every skill's weights from ws under the next version.
// ws.Version is ignored.
func (r *WeightRegistry) Replace(ws *domain.WeightSet) (int64, error) {
	for skill, w := range ws.Skills {
		if err := w.Validate(); err != nil {
			return 0, fmt.Errorf("skill %s: %w", skill, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := &domain.WeightSet{
		Version:  r.current.Load().Version + 1,
		Skills:   make(map[string]domain.FusionWeights, len(ws.Skills)),
		LoadedAt: r.now(),
	}
	for skill, w := range ws.Skills {
		next.Skills[skill] = w.Clone()
	}
	r.current.Store(next)
	return next.Version, nil
}
