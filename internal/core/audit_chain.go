package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/logging"

	"github.com/sirupsen/logrus"
)

// GenesisHash is the previous hash of the first entry in the chain.
const GenesisHash = ""

// AuditEvent is what callers hand to the chain.
type AuditEvent struct {
	TenantID *int64
	Entity   string
	EntityID string
	Action   string
	ActorID  string
	Payload  any
	// Context is stored next to the entry (request id, worker id) but is not hashed.
	Context map[string]any
}

// AuditRecord is a persisted chain entry. Payload holds the canonical JSON that was hashed.
type AuditRecord struct {
	ID           int64          `json:"id"`
	TenantID     *int64         `json:"tenant_id,omitempty"`
	Entity       string         `json:"entity"`
	EntityID     string         `json:"entity_id"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id,omitempty"`
	Payload      string         `json:"payload"`
	Context      map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	PreviousHash string         `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// VerifyResult reports the outcome of a full chain walk.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	TotalChecked int      `json:"total_checked"`
	BrokenAt     *int64   `json:"broken_at,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// Err returns an *IntegrityError for a broken chain, nil otherwise.
func (r *VerifyResult) Err() error {
	if r.Valid || r.BrokenAt == nil {
		return nil
	}
	return &IntegrityError{EntryID: *r.BrokenAt, Message: strings.Join(r.Errors, "; ")}
}

// AuditStore persists chain entries. Implementations must serialize appends so
// two writers never link to the same head.
type AuditStore interface {
	// AppendLinked reads the current head hash under the append lock, passes it
	// to build and persists the returned record.
	AppendLinked(ctx context.Context, build func(previousHash string) (AuditRecord, error)) (AuditRecord, error)
	// Walk calls fn for every entry ordered by created_at, then id.
	Walk(ctx context.Context, fn func(AuditRecord) error) error
}

// AuditChain is the tamper-evident log every component writes to.
type AuditChain interface {
	// Append records ev. Failures are logged and never returned: an audit
	// write must not abort the business operation that triggered it.
	Append(ctx context.Context, ev AuditEvent)
	VerifyChain(ctx context.Context) (*VerifyResult, error)
}

type auditChain struct {
	store  AuditStore
	logger *logrus.Logger
}

func NewAuditChain(store AuditStore, logger *logrus.Logger) AuditChain {
	if logger == nil {
		logger = logging.Discard()
	}
	return &auditChain{store: store, logger: logger}
}

func (c *auditChain) Append(ctx context.Context, ev AuditEvent) {
	if _, err := c.append(ctx, ev); err != nil {
		logging.LogError(c.logger, "AuditChain", "Append", "failed to append audit entry",
			map[string]any{"entity": ev.Entity, "entity_id": ev.EntityID, "action": ev.Action}, err)
	}
}

func (c *auditChain) append(ctx context.Context, ev AuditEvent) (AuditRecord, error) {
	if ev.Entity == "" || ev.Action == "" {
		return AuditRecord{}, &ValidationError{Field: "entity", Message: "entity and action are required"}
	}
	payload, err := CanonicalJSON(ev.Payload)
	if err != nil {
		return AuditRecord{}, err
	}

	return c.store.AppendLinked(ctx, func(previousHash string) (AuditRecord, error) {
		return AuditRecord{
			TenantID:     ev.TenantID,
			Entity:       ev.Entity,
			EntityID:     ev.EntityID,
			Action:       ev.Action,
			ActorID:      ev.ActorID,
			Payload:      payload,
			Context:      ev.Context,
			PreviousHash: previousHash,
			EntryHash:    ComputeEntryHash(previousHash, payload),
		}, nil
	})
}

// VerifyChain walks every entry from the oldest, checking both the link to the
// previous entry and the entry's own hash. It stops at the first mismatch.
func (c *auditChain) VerifyChain(ctx context.Context) (*VerifyResult, error) {
	res := &VerifyResult{Valid: true}
	expectedPrevious := GenesisHash

	err := c.store.Walk(ctx, func(rec AuditRecord) error {
		res.TotalChecked++

		if rec.PreviousHash != expectedPrevious {
			res.fail(rec.ID, fmt.Sprintf("entry %d links to %q, expected %q", rec.ID, rec.PreviousHash, expectedPrevious))
			return errStopWalk
		}
		if got := ComputeEntryHash(rec.PreviousHash, rec.Payload); got != rec.EntryHash {
			res.fail(rec.ID, fmt.Sprintf("entry %d hash mismatch: stored %s, recomputed %s", rec.ID, rec.EntryHash, got))
			return errStopWalk
		}

		expectedPrevious = rec.EntryHash
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, fmt.Errorf("failed to walk audit chain: %w", err)
	}

	if !res.Valid {
		c.logger.WithFields(logrus.Fields{
			"module":    "AuditChain",
			"broken_at": *res.BrokenAt,
			"checked":   res.TotalChecked,
		}).Warn("audit chain broken")
	}
	return res, nil
}

var errStopWalk = errors.New("stop walk")

func (r *VerifyResult) fail(id int64, msg string) {
	r.Valid = false
	r.BrokenAt = &id
	r.Errors = append(r.Errors, msg)
}

// ComputeEntryHash is hex(SHA-256(previousHash + "|" + canonicalPayload)).
func ComputeEntryHash(previousHash, canonicalPayload string) string {
	sum := sha256.Sum256([]byte(previousHash + "|" + canonicalPayload))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON serializes v with object keys sorted at every depth, numbers
// kept verbatim and no HTML escaping. Equal values always produce equal bytes,
// whatever the field insertion order.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to decode audit payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
