package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/statetrack"
)

type transitionRepo struct {
	pool *pgxpool.Pool
}

const transitionColumns = `id, entity_id, tenant_id, from_state, to_state, actor,
       transition_type, processor_data, queue_source, queue_destination,
       transition_duration, sequence_number, notes, created_at`

// Record appends a transition with the next sequence number for the entity.
// The sequence is computed and inserted inside one transaction; the unique
// constraint on (entity_id, sequence_number) rejects a concurrent writer.
func (r *transitionRepo) Record(ctx context.Context, t *statetrack.StateTransition) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(t.ProcessorData)
	if err != nil {
		return "", common.NewRepositoryError(common.CodeInvalidData, "failed to encode processor data", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", mapError(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entity WHERE id = $1 AND tenant_id = $2 FOR SHARE)`,
		t.EntityID, tenantID).Scan(&exists)
	if err != nil {
		return "", mapError(err, "failed to check entity")
	}
	if !exists {
		return "", common.NewRepositoryError(common.CodeConstraintViolation, "entity does not exist", nil)
	}

	var seq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM state_transition WHERE entity_id = $1`,
		t.EntityID).Scan(&seq)
	if err != nil {
		return "", mapError(err, "failed to compute sequence number")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	insert := `
		INSERT INTO state_transition (
			id, entity_id, tenant_id, from_state, to_state, actor,
			transition_type, processor_data, queue_source, queue_destination,
			transition_duration, sequence_number, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.Exec(ctx, insert,
		id, t.EntityID, tenantID, t.FromState, t.ToState, t.Actor,
		t.TransitionType, data, t.QueueSource, t.QueueDestination,
		t.TransitionDuration, seq, t.Notes, now)
	if err != nil {
		return "", mapError(err, "failed to record transition")
	}
	if err := tx.Commit(ctx); err != nil {
		return "", mapError(err, "failed to commit transition")
	}

	t.ID = id
	t.TenantID = tenantID
	t.SequenceNumber = seq
	t.CreatedAt = now
	return id, nil
}

func (r *transitionRepo) ListByEntity(ctx context.Context, entityID string) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + transitionColumns + `
		FROM state_transition
		WHERE entity_id = $1 AND tenant_id = $2
		ORDER BY sequence_number`

	rows, err := r.pool.Query(ctx, query, entityID, tenantID)
	if err != nil {
		return nil, mapError(err, "failed to list transitions")
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func (r *transitionRepo) GetLatest(ctx context.Context, entityID string) (*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + transitionColumns + `
		FROM state_transition
		WHERE entity_id = $1 AND tenant_id = $2
		ORDER BY sequence_number DESC
		LIMIT 1`
	return scanTransition(r.pool.QueryRow(ctx, query, entityID, tenantID))
}

// ListLatestInState returns entities whose most recent transition landed in
// the given state, oldest first.
func (r *transitionRepo) ListLatestInState(ctx context.Context, state string, limit, offset int) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	// NULLIF turns a zero limit into "no limit", matching the memory backend.
	query := `
		SELECT ` + transitionColumns + `
		FROM state_transition st
		WHERE tenant_id = $1
		  AND to_state = $2
		  AND sequence_number = (
			SELECT MAX(sequence_number) FROM state_transition WHERE entity_id = st.entity_id
		  )
		ORDER BY created_at
		LIMIT NULLIF($3, 0) OFFSET $4`

	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, query, tenantID, state, limit, offset)
	if err != nil {
		return nil, mapError(err, "failed to list entities in state")
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func (r *transitionRepo) ListByTimeRange(ctx context.Context, start, end *time.Time) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + transitionColumns + `
		FROM state_transition
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID, start, end)
	if err != nil {
		return nil, mapError(err, "failed to list transitions by time range")
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func (r *transitionRepo) ListByTransition(ctx context.Context, fromState, toState string) ([]*statetrack.StateTransition, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + transitionColumns + `
		FROM state_transition
		WHERE tenant_id = $1 AND from_state = $2 AND to_state = $3
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID, fromState, toState)
	if err != nil {
		return nil, mapError(err, "failed to list transitions")
	}
	defer rows.Close()
	return collectTransitions(rows)
}

func scanTransition(row rowScanner) (*statetrack.StateTransition, error) {
	var t statetrack.StateTransition
	var data []byte
	err := row.Scan(
		&t.ID, &t.EntityID, &t.TenantID, &t.FromState, &t.ToState, &t.Actor,
		&t.TransitionType, &data, &t.QueueSource, &t.QueueDestination,
		&t.TransitionDuration, &t.SequenceNumber, &t.Notes, &t.CreatedAt)
	if err != nil {
		return nil, mapError(err, "failed to scan transition")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.ProcessorData); err != nil {
			return nil, common.NewRepositoryError(common.CodeInvalidData, "corrupt processor data", err)
		}
	}
	return &t, nil
}

func collectTransitions(rows pgx.Rows) ([]*statetrack.StateTransition, error) {
	var out []*statetrack.StateTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read transition rows")
	}
	return out, nil
}
