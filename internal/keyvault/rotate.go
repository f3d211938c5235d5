package keyvault

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StoredCredential is one encrypted signing credential.
type StoredCredential struct {
	TenantID int64
	Blob     []byte
}

// CredentialRepository is where encrypted credentials live.
type CredentialRepository interface {
	ListCredentials(ctx context.Context) ([]StoredCredential, error)
	UpdateCredential(ctx context.Context, tenantID int64, blob []byte) error
}

type RotateOptions struct {
	// DryRun decrypts, re-encrypts and verifies without persisting anything.
	DryRun bool
}

type RotationFailure struct {
	TenantID int64  `json:"tenant_id"`
	Error    string `json:"error"`
}

type RotationReport struct {
	DryRun         bool              `json:"dry_run"`
	Total          int               `json:"total"`
	Rotated        int               `json:"rotated"`
	AlreadyRotated int               `json:"already_rotated"`
	Failures       []RotationFailure `json:"failures,omitempty"`
}

// Rotate re-encrypts every stored credential from oldKey to newKey. A blob
// that only opens with newKey is counted as already rotated. Each new blob is
// decrypted again before it is written. A failing credential is reported and
// does not stop the run.
func Rotate(ctx context.Context, repo CredentialRepository, oldKey, newKey []byte, opts RotateOptions, logger *logrus.Logger) (*RotationReport, error) {
	if len(oldKey) < minKeySize || len(newKey) < minKeySize {
		return nil, ErrInvalidKey
	}
	if SameKey(oldKey, newKey) {
		return nil, fmt.Errorf("keyvault: old and new keys are identical")
	}

	creds, err := repo.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyvault: failed to list credentials: %w", err)
	}

	report := &RotationReport{DryRun: opts.DryRun, Total: len(creds)}
	candidates := [][]byte{oldKey, newKey}

	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := logger.WithFields(logrus.Fields{"module": "KeyVault", "tenant_id": c.TenantID, "dry_run": opts.DryRun})

		res, err := DecryptWithFallback(c.Blob, candidates)
		if err != nil {
			report.fail(c.TenantID, err)
			log.WithError(err).Error("credential could not be decrypted with either key")
			continue
		}
		if res.KeyIndex == 1 {
			report.AlreadyRotated++
			log.Info("credential already encrypted with the new key")
			continue
		}

		blob, err := Encrypt(res.Plaintext, newKey)
		if err != nil {
			report.fail(c.TenantID, err)
			continue
		}
		check, err := Decrypt(blob, newKey)
		if err != nil || !bytes.Equal(check, res.Plaintext) {
			report.fail(c.TenantID, ErrVerifyRotation)
			log.Error(ErrVerifyRotation.Error())
			continue
		}

		if !opts.DryRun {
			if err := repo.UpdateCredential(ctx, c.TenantID, blob); err != nil {
				report.fail(c.TenantID, err)
				log.WithError(err).Error("failed to persist rotated credential")
				continue
			}
		}
		report.Rotated++
		log.Info("credential rotated")
	}
	return report, nil
}

func (r *RotationReport) fail(tenantID int64, err error) {
	r.Failures = append(r.Failures, RotationFailure{TenantID: tenantID, Error: err.Error()})
}
