package keyvault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCredentialRepo reads and writes the encrypted signing credential kept in
// tenant_fiscal_settings.
type PgCredentialRepo struct {
	pool *pgxpool.Pool
}

func NewPgCredentialRepo(pool *pgxpool.Pool) *PgCredentialRepo {
	return &PgCredentialRepo{pool: pool}
}

func (r *PgCredentialRepo) ListCredentials(ctx context.Context) ([]StoredCredential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, signing_credential
		FROM tenant_fiscal_settings
		WHERE signing_credential IS NOT NULL
		ORDER BY tenant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var out []StoredCredential
	for rows.Next() {
		var c StoredCredential
		if err := rows.Scan(&c.TenantID, &c.Blob); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PgCredentialRepo) UpdateCredential(ctx context.Context, tenantID int64, blob []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenant_fiscal_settings SET signing_credential = $2, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, blob)
	if err != nil {
		return fmt.Errorf("failed to update credential for tenant %d: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no fiscal settings for tenant %d", tenantID)
	}
	return nil
}

// SetCredential stores an already encrypted credential and its certificate fingerprint.
func (r *PgCredentialRepo) SetCredential(ctx context.Context, tenantID int64, blob []byte, fingerprint string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenant_fiscal_settings
		SET signing_credential = $2, credential_fingerprint = $3, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, blob, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to store credential for tenant %d: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no fiscal settings for tenant %d", tenantID)
	}
	return nil
}

// SigningCredential returns the tenant's encrypted credential, or nil when none is configured.
func (r *PgCredentialRepo) SigningCredential(ctx context.Context, tenantID int64) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx,
		"SELECT signing_credential FROM tenant_fiscal_settings WHERE tenant_id = $1", tenantID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential for tenant %d: %w", tenantID, err)
	}
	return blob, nil
}
