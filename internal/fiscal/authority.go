package fiscal

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"backoffice/internal/core"
)

// ReferenceCode is the CUFE-style acceptance code: hex SHA-384 over
// number|issuedAt|grandTotal|taxTotal|tenant, with amounts at the currency scale.
func ReferenceCode(inv *core.FiscalInvoice, scale int32) string {
	parts := []string{
		inv.Number,
		inv.IssuedAt.UTC().Format(time.RFC3339),
		inv.GrandTotal.StringFixed(scale),
		inv.TaxTotal.StringFixed(scale),
		strconv.FormatInt(inv.TenantID, 10),
	}
	sum := sha512.Sum384([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// StubAuthority stands in for the tax authority web service. It accepts every
// submission unless configured to reject. The reference code is derived from
// the invoice number, so resubmitting the same invoice yields the same code.
type StubAuthority struct {
	mu sync.Mutex
	// RejectFirst rejects this many submissions before accepting.
	RejectFirst int
	// RejectReason is returned with every rejection.
	RejectReason string
	// Scale is the currency scale used in reference codes.
	Scale int32
	Now   func() time.Time

	submissions int
}

func NewStubAuthority(scale int32) *StubAuthority {
	return &StubAuthority{Scale: scale, Now: time.Now}
}

func (a *StubAuthority) Submit(ctx context.Context, inv *core.FiscalInvoice, payload []byte) (*core.AuthorityReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.ExternalSubmissionError{Message: "authority unreachable", Err: err}
	}
	if len(payload) == 0 {
		return nil, &core.ExternalSubmissionError{Rejected: true, Message: "empty payload"}
	}

	a.mu.Lock()
	a.submissions++
	n := a.submissions
	a.mu.Unlock()

	if n <= a.RejectFirst {
		reason := a.RejectReason
		if reason == "" {
			reason = "document rejected"
		}
		return nil, &core.ExternalSubmissionError{Rejected: true, Message: fmt.Sprintf("%s (submission %d)", reason, n)}
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return &core.AuthorityReceipt{ReferenceCode: ReferenceCode(inv, a.Scale), AcceptedAt: now()}, nil
}

// Submissions reports how many payloads were received.
func (a *StubAuthority) Submissions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submissions
}
