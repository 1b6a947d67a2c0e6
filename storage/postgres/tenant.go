package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

type tenantRepo struct {
	pool *pgxpool.Pool
}

func (r *tenantRepo) Create(ctx context.Context, t *tenant.Tenant) error {
	config, err := json.Marshal(t.Config)
	if err != nil {
		return common.NewRepositoryError(common.CodeInvalidData, "failed to encode tenant config", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO tenant (
			tenant_id, customer_name, is_active, tenant_config,
			contact_name, contact_email, contact_phone,
			address_line1, address_line2, city, country,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.pool.Exec(ctx, query,
		t.TenantID, t.CustomerName, t.IsActive, config,
		t.ContactName, t.ContactEmail, t.ContactPhone,
		t.AddressLine1, t.AddressLine2, t.City, t.Country,
		now, now)
	if err != nil {
		return mapError(err, "failed to create tenant")
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func (r *tenantRepo) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	query := `
		SELECT tenant_id, customer_name, is_active, tenant_config,
		       contact_name, contact_email, contact_phone,
		       address_line1, address_line2, city, country,
		       created_at, updated_at
		FROM tenant
		WHERE tenant_id = $1`

	return scanTenant(r.pool.QueryRow(ctx, query, tenantID))
}

func (r *tenantRepo) Update(ctx context.Context, t *tenant.Tenant) error {
	config, err := json.Marshal(t.Config)
	if err != nil {
		return common.NewRepositoryError(common.CodeInvalidData, "failed to encode tenant config", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE tenant SET
			customer_name = $2, is_active = $3, tenant_config = $4,
			contact_name = $5, contact_email = $6, contact_phone = $7,
			address_line1 = $8, address_line2 = $9, city = $10, country = $11,
			updated_at = $12
		WHERE tenant_id = $1`

	result, err := r.pool.Exec(ctx, query,
		t.TenantID, t.CustomerName, t.IsActive, config,
		t.ContactName, t.ContactEmail, t.ContactPhone,
		t.AddressLine1, t.AddressLine2, t.City, t.Country,
		now)
	if err != nil {
		return mapError(err, "failed to update tenant")
	}
	if result.RowsAffected() == 0 {
		return common.NewRepositoryError(common.CodeNotFound, "tenant not found", nil)
	}
	t.UpdatedAt = now
	return nil
}

func (r *tenantRepo) List(ctx context.Context) ([]*tenant.Tenant, error) {
	query := `
		SELECT tenant_id, customer_name, is_active, tenant_config,
		       contact_name, contact_email, contact_phone,
		       address_line1, address_line2, city, country,
		       created_at, updated_at
		FROM tenant
		ORDER BY tenant_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err, "failed to list tenants")
	}
	defer rows.Close()

	var out []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to list tenants")
	}
	return out, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var config []byte
	err := row.Scan(
		&t.TenantID, &t.CustomerName, &t.IsActive, &config,
		&t.ContactName, &t.ContactEmail, &t.ContactPhone,
		&t.AddressLine1, &t.AddressLine2, &t.City, &t.Country,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "failed to scan tenant")
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &t.Config); err != nil {
			return nil, common.NewRepositoryError(common.CodeInvalidData, fmt.Sprintf("corrupt tenant config for %s", t.TenantID), err)
		}
	}
	return &t, nil
}
