package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/statetrack"
)

type transitionRepo struct {
	store *Store
}

func (r *transitionRepo) Record(ctx context.Context, t *statetrack.StateTransition) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	e, ok := r.store.entities[t.EntityID]
	if !ok || e.TenantID != tenantID {
		return "", common.NewRepositoryError(common.CodeConstraintViolation, "entity does not exist", nil)
	}

	history := r.store.transitions[t.EntityID]
	c := t.Clone()
	c.ID = uuid.NewString()
	c.TenantID = tenantID
	c.SequenceNumber = len(history) + 1
	c.CreatedAt = time.Now().UTC()

	r.store.transitions[t.EntityID] = append(history, c)
	return c.ID, nil
}

func (r *transitionRepo) ListByEntity(ctx context.Context, entityID string) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*statetrack.StateTransition
	for _, t := range r.store.transitions[entityID] {
		if t.TenantID == tenantID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *transitionRepo) GetLatest(ctx context.Context, entityID string) (*statetrack.StateTransition, error) {
	history, err := r.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, common.NewRepositoryError(common.CodeNotFound, "entity has no transitions", nil)
	}
	return history[len(history)-1], nil
}

func (r *transitionRepo) ListLatestInState(ctx context.Context, state string, limit, offset int) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*statetrack.StateTransition
	for _, history := range r.store.transitions {
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		if latest.TenantID == tenantID && latest.ToState == state {
			out = append(out, latest.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transitionRepo) ListByTimeRange(ctx context.Context, start, end *time.Time) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*statetrack.StateTransition
	for _, history := range r.store.transitions {
		for _, t := range history {
			if t.TenantID != tenantID {
				continue
			}
			if start != nil && t.CreatedAt.Before(*start) {
				continue
			}
			if end != nil && !t.CreatedAt.Before(*end) {
				continue
			}
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *transitionRepo) ListByTransition(ctx context.Context, fromState, toState string) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*statetrack.StateTransition
	for _, history := range r.store.transitions {
		for _, t := range history {
			if t.TenantID == tenantID && t.FromState == fromState && t.ToState == toState {
				out = append(out, t.Clone())
			}
		}
	}
	return out, nil
}
