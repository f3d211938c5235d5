package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// auditChainLockKey serializes appends across every process sharing the database.
const auditChainLockKey int64 = 5820117

type pgAuditStore struct {
	pool *pgxpool.Pool
}

// NewPgAuditStore stores the chain in audit_log. Appends hold a transaction
// scoped advisory lock while reading the head and inserting the new entry.
func NewPgAuditStore(pool *pgxpool.Pool) AuditStore {
	return &pgAuditStore{pool: pool}
}

func (s *pgAuditStore) AppendLinked(ctx context.Context, build func(previousHash string) (AuditRecord, error)) (AuditRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", auditChainLockKey); err != nil {
		return AuditRecord{}, fmt.Errorf("failed to acquire audit chain lock: %w", err)
	}

	previousHash := GenesisHash
	err = tx.QueryRow(ctx, `
		SELECT entry_hash FROM audit_log ORDER BY created_at DESC, id DESC LIMIT 1
	`).Scan(&previousHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return AuditRecord{}, fmt.Errorf("failed to read audit chain head: %w", err)
	}

	rec, err := build(previousHash)
	if err != nil {
		return AuditRecord{}, err
	}

	var contextJSON []byte
	if rec.Context != nil {
		if contextJSON, err = json.Marshal(rec.Context); err != nil {
			return AuditRecord{}, fmt.Errorf("failed to marshal audit context: %w", err)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO audit_log (tenant_id, entity, entity_id, action, actor_id, payload, context, previous_hash, entry_hash)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		RETURNING id, created_at
	`, rec.TenantID, rec.Entity, rec.EntityID, rec.Action, rec.ActorID, rec.Payload, contextJSON,
		rec.PreviousHash, rec.EntryHash,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AuditRecord{}, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return rec, nil
}

func (s *pgAuditStore) Walk(ctx context.Context, fn func(AuditRecord) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, entity, entity_id, action, COALESCE(actor_id, ''),
		       payload, context, created_at, previous_hash, entry_hash
		FROM audit_log
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec AuditRecord
		var contextJSON []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Entity, &rec.EntityID, &rec.Action, &rec.ActorID,
			&rec.Payload, &contextJSON, &rec.CreatedAt, &rec.PreviousHash, &rec.EntryHash); err != nil {
			return fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := decodeAuditContext(contextJSON, &rec); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func decodeAuditContext(raw []byte, rec *AuditRecord) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &rec.Context); err != nil {
		return fmt.Errorf("failed to decode context of audit entry %d: %w", rec.ID, err)
	}
	return nil
}
