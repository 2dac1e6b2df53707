// Package registry implements the connector registry: the catalog of
// connectors, their lifecycle stage, and the visibility/execution rules
// that gate what a workflow can reference, backed by a map guarded by a
// single RWMutex.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// Registry holds ConnectorDescriptors in memory, keyed by slug. Callers
// that need durability persist descriptors through store.Store themselves
// and call Register on startup; the Registry itself has no store
// dependency.
type Registry struct {
	mu    sync.RWMutex
	descs map[string]domain.ConnectorDescriptor
}

func New() *Registry {
	return &Registry{descs: make(map[string]domain.ConnectorDescriptor)}
}

// Register adds or replaces a descriptor wholesale (e.g. loaded at
// startup). Use PatchRollout for partial admin updates after that.
func (r *Registry) Register(d domain.ConnectorDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[d.Slug] = d
}

// Get returns the descriptor for slug.
func (r *Registry) Get(slug string) (domain.ConnectorDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[slug]
	if !ok {
		return domain.ConnectorDescriptor{}, &domain.Err{Kind: domain.ErrNotFound, Message: fmt.Sprintf("no connector %q", slug)}
	}
	return d, nil
}

// Filter narrows List to a subset of descriptors. A zero-value Filter
// matches everything.
type Filter struct {
	Stage domain.LifecycleStage // "" matches any stage
	Slugs []string              // empty matches any slug
}

// List returns descriptors matching filter, sorted by slug is not
// guaranteed — callers that need stable order sort the result themselves.
func (r *Registry) List(filter Filter) []domain.ConnectorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allow := map[string]bool{}
	for _, s := range filter.Slugs {
		allow[s] = true
	}

	var out []domain.ConnectorDescriptor
	for _, d := range r.descs {
		if filter.Stage != "" && d.LifecycleStage != filter.Stage {
			continue
		}
		if len(allow) > 0 && !allow[d.Slug] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ListMarketplace returns descriptors visible in the marketplace listing:
// planning connectors are never listed, and sunset connectors drop
// off once sunsetAt has passed.
func (r *Registry) ListMarketplace(now time.Time) []domain.ConnectorDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ConnectorDescriptor
	for _, d := range r.descs {
		if d.LifecycleStage == domain.StagePlanning {
			continue
		}
		if d.LifecycleStage == domain.StageSunset && d.SunsetAt != nil && now.After(*d.SunsetAt) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// RolloutPatch is the admin PATCH payload. Nil fields leave
// the current value unchanged.
type RolloutPatch struct {
	LifecycleStage     *domain.LifecycleStage
	SemanticVersion    *string
	IsBeta             *bool
	BetaStartAt        *time.Time
	BetaEndAt          *time.Time
	DeprecationStartAt *time.Time
	SunsetAt           *time.Time
}

// PatchRollout applies patch to slug's descriptor under the catalog
// invariants: setting isBeta=true forces the stage to beta; clearing isBeta
// while currently beta falls back to stable. The resulting
// betaStartAt/deprecationStartAt/sunsetAt are checked for the
// monotonic ordering (sunsetAt >= deprecationStartAt >= betaStartAt,
// wherever more than one is present) and rejected as schema_violation
// otherwise. PatchRollout is idempotent when patch equals the descriptor's
// current state.
func (r *Registry) PatchRollout(slug string, patch RolloutPatch) (domain.ConnectorDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descs[slug]
	if !ok {
		return domain.ConnectorDescriptor{}, &domain.Err{Kind: domain.ErrNotFound, Message: fmt.Sprintf("no connector %q", slug)}
	}

	next := d
	if patch.LifecycleStage != nil {
		next.LifecycleStage = *patch.LifecycleStage
	}
	if patch.SemanticVersion != nil {
		next.SemanticVersion = *patch.SemanticVersion
	}
	if patch.IsBeta != nil {
		next.IsBeta = *patch.IsBeta
		if next.IsBeta {
			next.LifecycleStage = domain.StageBeta
		} else if next.LifecycleStage == domain.StageBeta {
			next.LifecycleStage = domain.StageStable
		}
	}
	if patch.BetaStartAt != nil {
		next.BetaStartAt = patch.BetaStartAt
	}
	if patch.BetaEndAt != nil {
		next.BetaEndAt = patch.BetaEndAt
	}
	if patch.DeprecationStartAt != nil {
		next.DeprecationStartAt = patch.DeprecationStartAt
	}
	if patch.SunsetAt != nil {
		next.SunsetAt = patch.SunsetAt
	}

	if err := checkRolloutOrdering(next); err != nil {
		return domain.ConnectorDescriptor{}, err
	}

	next.UpdatedAt = time.Now()
	r.descs[slug] = next
	return next, nil
}

// checkRolloutOrdering enforces "sunsetAt, if present, >=
// deprecationStartAt >= betaStartAt" across whichever of the three
// timestamps are set on d.
func checkRolloutOrdering(d domain.ConnectorDescriptor) error {
	if d.DeprecationStartAt != nil && d.BetaStartAt != nil && d.DeprecationStartAt.Before(*d.BetaStartAt) {
		return &domain.Err{Kind: domain.ErrSchemaViolation, Message: fmt.Sprintf("connector %q: deprecationStartAt precedes betaStartAt", d.Slug)}
	}
	if d.SunsetAt != nil && d.DeprecationStartAt != nil && d.SunsetAt.Before(*d.DeprecationStartAt) {
		return &domain.Err{Kind: domain.ErrSchemaViolation, Message: fmt.Sprintf("connector %q: sunsetAt precedes deprecationStartAt", d.Slug)}
	}
	if d.SunsetAt != nil && d.BetaStartAt != nil && d.DeprecationStartAt == nil && d.SunsetAt.Before(*d.BetaStartAt) {
		return &domain.Err{Kind: domain.ErrSchemaViolation, Message: fmt.Sprintf("connector %q: sunsetAt precedes betaStartAt", d.Slug)}
	}
	return nil
}

// CheckExecutable enforces the execution-time gate: sunset connectors
// never run; beta connectors require betaEnabled (the org's opt-in flag)
// while `now` falls inside [betaStartAt, betaEndAt] (either bound absent
// means unbounded on that side). deprecated connectors are allowed but the
// caller should emit a warning event (the caller owns the telemetry
// Emitter, not the Registry).
func (r *Registry) CheckExecutable(slug string, betaEnabled bool, now time.Time) error {
	d, err := r.Get(slug)
	if err != nil {
		return err
	}
	if d.LifecycleStage == domain.StageSunset {
		return &domain.Err{Kind: domain.ErrConnectorSunset, Message: fmt.Sprintf("connector %q is sunset", slug)}
	}
	if d.SunsetAt != nil && now.After(*d.SunsetAt) {
		return &domain.Err{Kind: domain.ErrConnectorSunset, Message: fmt.Sprintf("connector %q passed its sunset date", slug)}
	}
	if d.LifecycleStage == domain.StageBeta {
		if !betaEnabled {
			return &domain.Err{Kind: domain.ErrBetaNotEnabled, Message: fmt.Sprintf("connector %q is beta; org has not opted in", slug)}
		}
		if d.BetaStartAt != nil && now.Before(*d.BetaStartAt) {
			return &domain.Err{Kind: domain.ErrBetaNotEnabled, Message: fmt.Sprintf("connector %q beta window has not started", slug)}
		}
		if d.BetaEndAt != nil && now.After(*d.BetaEndAt) {
			return &domain.Err{Kind: domain.ErrBetaNotEnabled, Message: fmt.Sprintf("connector %q beta window has ended", slug)}
		}
	}
	return nil
}

// IsDeprecated reports whether slug's descriptor is in the deprecated
// stage, used by callers that want to emit the deprecation warning.
func (r *Registry) IsDeprecated(slug string) bool {
	d, err := r.Get(slug)
	if err != nil {
		return false
	}
	return d.LifecycleStage == domain.StageDeprecated
}
