package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evocrestco/api-exchange-core-sub000/procerror"
)

type errorRepo struct {
	pool *pgxpool.Pool
}

const errorColumns = `id, entity_id, tenant_id, error_type_code, message,
       processing_step, stack_trace, created_at`

func (r *errorRepo) Create(ctx context.Context, e *procerror.ProcessingError) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	query := `
		INSERT INTO processing_error (
			id, entity_id, tenant_id, error_type_code, message,
			processing_step, stack_trace, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.pool.Exec(ctx, query,
		id, e.EntityID, tenantID, e.ErrorTypeCode, e.Message,
		e.ProcessingStep, e.StackTrace, now)
	if err != nil {
		return "", mapError(err, "failed to record processing error")
	}
	e.ID = id
	e.TenantID = tenantID
	e.CreatedAt = now
	return id, nil
}

func (r *errorRepo) GetByID(ctx context.Context, id string) (*procerror.ProcessingError, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + errorColumns + ` FROM processing_error WHERE id = $1 AND tenant_id = $2`

	var e procerror.ProcessingError
	err = r.pool.QueryRow(ctx, query, id, tenantID).Scan(
		&e.ID, &e.EntityID, &e.TenantID, &e.ErrorTypeCode, &e.Message,
		&e.ProcessingStep, &e.StackTrace, &e.CreatedAt)
	if err != nil {
		return nil, mapError(err, "error record not found")
	}
	return &e, nil
}

func (r *errorRepo) ListByEntity(ctx context.Context, entityID string) ([]*procerror.ProcessingError, error) {
	return r.ListByFilter(ctx, procerror.Filter{EntityID: entityID})
}

func (r *errorRepo) ListByFilter(ctx context.Context, f procerror.Filter) ([]*procerror.ProcessingError, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}

	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	addArg := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + clause
	}
	if f.EntityID != "" {
		addArg(`entity_id = $`+strconv.Itoa(len(args)+1), f.EntityID)
	}
	if f.ErrorTypeCode != "" {
		addArg(`error_type_code = $`+strconv.Itoa(len(args)+1), f.ErrorTypeCode)
	}
	if f.ProcessingStep != "" {
		addArg(`processing_step = $`+strconv.Itoa(len(args)+1), f.ProcessingStep)
	}
	if f.CreatedAfter != nil {
		addArg(`created_at > $`+strconv.Itoa(len(args)+1), *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		addArg(`created_at < $`+strconv.Itoa(len(args)+1), *f.CreatedBefore)
	}

	query := `SELECT ` + errorColumns + ` FROM processing_error` + where + ` ORDER BY created_at DESC, id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "failed to list processing errors")
	}
	defer rows.Close()

	var out []*procerror.ProcessingError
	for rows.Next() {
		var e procerror.ProcessingError
		err := rows.Scan(
			&e.ID, &e.EntityID, &e.TenantID, &e.ErrorTypeCode, &e.Message,
			&e.ProcessingStep, &e.StackTrace, &e.CreatedAt)
		if err != nil {
			return nil, mapError(err, "failed to scan processing error")
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read processing error rows")
	}
	return out, nil
}

func (r *errorRepo) Delete(ctx context.Context, id string) (bool, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return false, err
	}
	result, err := r.pool.Exec(ctx,
		`DELETE FROM processing_error WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, mapError(err, "failed to delete processing error")
	}
	return result.RowsAffected() > 0, nil
}

func (r *errorRepo) DeleteByEntity(ctx context.Context, entityID string) (int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return 0, err
	}
	result, err := r.pool.Exec(ctx,
		`DELETE FROM processing_error WHERE entity_id = $1 AND tenant_id = $2`, entityID, tenantID)
	if err != nil {
		return 0, mapError(err, "failed to delete processing errors")
	}
	return int(result.RowsAffected()), nil
}
