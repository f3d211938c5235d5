package core

import (
	"errors"
	"testing"
)

func TestFiscalTransitions(t *testing.T) {
	tests := []struct {
		from, to FiscalStatus
		want     bool
	}{
		{FiscalDraft, FiscalSent, true},
		{FiscalDraft, FiscalAccepted, false},
		{FiscalSent, FiscalAccepted, true},
		{FiscalSent, FiscalRejected, true},
		{FiscalSent, FiscalSent, true},
		{FiscalRejected, FiscalSent, true},
		{FiscalRejected, FiscalAccepted, false},
		{FiscalAccepted, FiscalSent, false},
		{FiscalAccepted, FiscalRejected, false},
	}
	for _, tt := range tests {
		if got := FiscalTransitions.Can(tt.from, tt.to); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if !FiscalTransitions.Terminal(FiscalAccepted) {
		t.Error("ACCEPTED should be terminal")
	}
	if FiscalTransitions.Terminal(FiscalRejected) {
		t.Error("REJECTED must not be terminal")
	}
}

func TestQuoteTransitions_Check(t *testing.T) {
	if err := QuoteTransitions.Check("quote", QuoteAccepted, QuoteConverted); err != nil {
		t.Fatalf("ACCEPTED -> CONVERTED should be allowed: %v", err)
	}

	for _, from := range []QuoteStatus{QuoteRejected, QuoteExpired, QuoteConverted} {
		err := QuoteTransitions.Check("quote", from, QuoteConverted)
		if err == nil {
			t.Fatalf("%s -> CONVERTED should be rejected", from)
		}
		if !errors.Is(err, ErrConflict) {
			t.Errorf("expected conflict error, got %v", err)
		}
	}
}
