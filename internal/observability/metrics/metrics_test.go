package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDeclarationCreated(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry, Config{ServiceName: "callbonus", Environment: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.RecordDeclarationCreated("first_call", "ftd")
	m.RecordDeclarationCreated("first_call", "ftd")

	got := testutil.ToFloat64(m.declarationsCreated.WithLabelValues("first_call", "ftd"))
	if got != 2 {
		t.Fatalf("expected count 2, got %v", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDeclarationCreated("deposit", "ftd")
	m.RecordDeclarationReviewed("approved")
	m.RecordLedgerAdjustment("first_am_call", "credit")
	m.RecordSlotTransition("scheduled")
	m.RecordReversalItem("reversed")
	m.RecordRateLimitDenied()
}

func TestDuplicateRegistrationTolerated(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := New(registry, Config{ServiceName: "callbonus", Environment: "test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(registry, Config{ServiceName: "callbonus", Environment: "test"}); err != nil {
		t.Fatalf("expected re-registration to be tolerated, got %v", err)
	}
}
