package core

import "fmt"

// Transitions is a status transition table: current status → allowed targets.
// Any transition not listed is rejected.
type Transitions[S ~string] map[S][]S

// Can reports whether from → to is listed in the table.
func (t Transitions[S]) Can(from, to S) bool {
	for _, allowed := range t[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Check returns a *ConflictError naming entity when from → to is not allowed.
func (t Transitions[S]) Check(entity string, from, to S) error {
	if t.Can(from, to) {
		return nil
	}
	return &ConflictError{Reason: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to)}
}

// Terminal reports whether no transition leaves s.
func (t Transitions[S]) Terminal(s S) bool {
	return len(t[s]) == 0
}

// ── Fiscal documents ──────────────────────────────────────────────────────────

type FiscalStatus string

const (
	FiscalDraft    FiscalStatus = "DRAFT"
	FiscalSent     FiscalStatus = "SENT"
	FiscalAccepted FiscalStatus = "ACCEPTED"
	FiscalRejected FiscalStatus = "REJECTED"
)

// FiscalTransitions: ACCEPTED is the only terminal state. SENT → SENT covers a
// redelivered job picking up a document whose previous attempt crashed mid-way.
var FiscalTransitions = Transitions[FiscalStatus]{
	FiscalDraft:    {FiscalSent},
	FiscalSent:     {FiscalAccepted, FiscalRejected, FiscalSent},
	FiscalRejected: {FiscalSent},
}

// ── Quotes ────────────────────────────────────────────────────────────────────

type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "DRAFT"
	QuoteSent      QuoteStatus = "SENT"
	QuoteAccepted  QuoteStatus = "ACCEPTED"
	QuoteRejected  QuoteStatus = "REJECTED"
	QuoteExpired   QuoteStatus = "EXPIRED"
	QuoteConverted QuoteStatus = "CONVERTED"
)

var QuoteTransitions = Transitions[QuoteStatus]{
	QuoteDraft:    {QuoteSent, QuoteConverted},
	QuoteSent:     {QuoteAccepted, QuoteRejected, QuoteExpired, QuoteConverted},
	QuoteAccepted: {QuoteConverted},
}

// ── Purchase orders ───────────────────────────────────────────────────────────

var PurchaseOrderTransitions = Transitions[PurchaseOrderStatus]{
	PurchaseOrderApproved: {PurchaseOrderReceived},
}
