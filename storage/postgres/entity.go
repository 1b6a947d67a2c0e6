package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
)

type entityRepo struct {
	pool *pgxpool.Pool
}

const entityColumns = `id, tenant_id, external_id, canonical_type, source,
       content_hash, attributes, version, created_at, updated_at`

func (r *entityRepo) Create(ctx context.Context, e *entity.Entity) (string, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", err
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return "", common.NewRepositoryError(common.CodeInvalidData, "failed to encode attributes", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	query := `
		INSERT INTO entity (
			id, tenant_id, external_id, canonical_type, source,
			content_hash, attributes, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.pool.Exec(ctx, query,
		id, tenantID, e.ExternalID, e.CanonicalType, e.Source,
		e.ContentHash, attrs, e.Version, now, now)
	if err != nil {
		return "", mapError(err, "failed to create entity")
	}
	e.ID = id
	e.TenantID = tenantID
	e.CreatedAt = now
	e.UpdatedAt = now
	return id, nil
}

func (r *entityRepo) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + entityColumns + ` FROM entity WHERE id = $1 AND tenant_id = $2`
	return scanEntity(r.pool.QueryRow(ctx, query, id, tenantID))
}

func (r *entityRepo) GetByExternalID(ctx context.Context, source, externalID string, version *int) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	if version != nil {
		query := `
			SELECT ` + entityColumns + `
			FROM entity
			WHERE tenant_id = $1 AND source = $2 AND external_id = $3 AND version = $4`
		return scanEntity(r.pool.QueryRow(ctx, query, tenantID, source, externalID, *version))
	}
	query := `
		SELECT ` + entityColumns + `
		FROM entity
		WHERE tenant_id = $1 AND source = $2 AND external_id = $3
		ORDER BY version DESC
		LIMIT 1`
	return scanEntity(r.pool.QueryRow(ctx, query, tenantID, source, externalID))
}

func (r *entityRepo) ListVersions(ctx context.Context, source, externalID string) ([]*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + entityColumns + `
		FROM entity
		WHERE tenant_id = $1 AND source = $2 AND external_id = $3
		ORDER BY version`

	rows, err := r.pool.Query(ctx, query, tenantID, source, externalID)
	if err != nil {
		return nil, mapError(err, "failed to list versions")
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (r *entityRepo) GetMaxVersion(ctx context.Context, source, externalID string) (int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return 0, err
	}
	query := `
		SELECT COALESCE(MAX(version), 0)
		FROM entity
		WHERE tenant_id = $1 AND source = $2 AND external_id = $3`

	var max int
	if err := r.pool.QueryRow(ctx, query, tenantID, source, externalID).Scan(&max); err != nil {
		return 0, mapError(err, "failed to get max version")
	}
	return max, nil
}

func (r *entityRepo) GetByContentHash(ctx context.Context, source, contentHash string) (*entity.Entity, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT ` + entityColumns + `
		FROM entity
		WHERE tenant_id = $1 AND source = $2 AND content_hash = $3
		ORDER BY created_at DESC
		LIMIT 1`
	return scanEntity(r.pool.QueryRow(ctx, query, tenantID, source, contentHash))
}

// CreateNewVersion locks the latest version row of the tuple, computes
// max+1, and inserts inside one transaction. Two concurrent first writes
// race to version 1; the unique constraint turns the loser into DUPLICATE.
func (r *entityRepo) CreateNewVersion(ctx context.Context, source, externalID, contentHash string, attributes map[string]interface{}, canonicalType string) (string, int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return "", 0, err
	}
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return "", 0, common.NewRepositoryError(common.CodeInvalidData, "failed to encode attributes", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", 0, mapError(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var maxVersion int
	var latestType string
	lockQuery := `
		SELECT version, canonical_type
		FROM entity
		WHERE tenant_id = $1 AND source = $2 AND external_id = $3
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE`
	err = tx.QueryRow(ctx, lockQuery, tenantID, source, externalID).Scan(&maxVersion, &latestType)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if canonicalType == "" {
			return "", 0, common.NewRepositoryError(common.CodeValidationFailed, "canonical type is required for a first version", nil)
		}
	case err != nil:
		return "", 0, mapError(err, "failed to lock latest version")
	default:
		// Later versions always inherit the chain's canonical type.
		canonicalType = latestType
	}

	id := uuid.NewString()
	version := maxVersion + 1
	now := time.Now().UTC()
	insert := `
		INSERT INTO entity (
			id, tenant_id, external_id, canonical_type, source,
			content_hash, attributes, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.Exec(ctx, insert,
		id, tenantID, externalID, canonicalType, source,
		contentHash, attrs, version, now, now)
	if err != nil {
		return "", 0, mapError(err, "failed to insert new version")
	}
	if err := tx.Commit(ctx); err != nil {
		return "", 0, mapError(err, "failed to commit new version")
	}
	return id, version, nil
}

func (r *entityRepo) List(ctx context.Context, f entity.Filter, limit, offset int) ([]*entity.Entity, int, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}
	addArg := func(clause string, v any) {
		args = append(args, v)
		where += ` AND ` + clause
	}
	if f.CanonicalType != "" {
		addArg(`canonical_type = $`+strconv.Itoa(len(args)+1), f.CanonicalType)
	}
	if f.Source != "" {
		addArg(`source = $`+strconv.Itoa(len(args)+1), f.Source)
	}
	if f.ExternalID != "" {
		addArg(`external_id = $`+strconv.Itoa(len(args)+1), f.ExternalID)
	}
	if f.ContentHash != "" {
		addArg(`content_hash = $`+strconv.Itoa(len(args)+1), f.ContentHash)
	}
	if f.CreatedAfter != nil {
		addArg(`created_at > $`+strconv.Itoa(len(args)+1), *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		addArg(`created_at < $`+strconv.Itoa(len(args)+1), *f.CreatedBefore)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entity`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "failed to count entities")
	}

	// NULLIF turns a zero limit into "no limit", matching the memory backend.
	query := `SELECT ` + entityColumns + ` FROM entity` + where +
		` ORDER BY created_at, id LIMIT NULLIF($` + strconv.Itoa(len(args)+1) + `, 0) OFFSET $` + strconv.Itoa(len(args)+2)
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err, "failed to list entities")
	}
	defer rows.Close()

	out, err := collectEntities(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *entityRepo) UpdateAttributes(ctx context.Context, id string, merge map[string]interface{}) error {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(merge)
	if err != nil {
		return common.NewRepositoryError(common.CodeInvalidData, "failed to encode attributes", err)
	}

	// Shallow merge: top-level keys of the patch win.
	query := `
		UPDATE entity
		SET attributes = COALESCE(attributes, '{}'::jsonb) || $3::jsonb,
		    updated_at = $4
		WHERE id = $1 AND tenant_id = $2`

	result, err := r.pool.Exec(ctx, query, id, tenantID, patch, time.Now().UTC())
	if err != nil {
		return mapError(err, "failed to update attributes")
	}
	if result.RowsAffected() == 0 {
		return common.NewRepositoryError(common.CodeNotFound, "entity not found", nil)
	}
	return nil
}

func (r *entityRepo) Delete(ctx context.Context, id string) (bool, error) {
	tenantID, err := currentTenant(ctx)
	if err != nil {
		return false, err
	}
	result, err := r.pool.Exec(ctx, `DELETE FROM entity WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, mapError(err, "failed to delete entity")
	}
	return result.RowsAffected() > 0, nil
}

func scanEntity(row rowScanner) (*entity.Entity, error) {
	var e entity.Entity
	var attrs []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ExternalID, &e.CanonicalType, &e.Source,
		&e.ContentHash, &attrs, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "failed to scan entity")
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, common.NewRepositoryError(common.CodeInvalidData, "corrupt entity attributes", err)
		}
	}
	return &e, nil
}

func collectEntities(rows pgx.Rows) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to read entity rows")
	}
	return out, nil
}
