package pipeline

import "testing"

func TestRetryLedger(t *testing.T) {
	ledger := newRetryLedger()

	first := ledger.open()
	second := ledger.open()
	if first == second {
		t.Fatal("correlation IDs must be unique")
	}
	if ledger.inFlight() != 2 {
		t.Fatalf("inFlight = %d, want 2", ledger.inFlight())
	}

	if ledger.hasRetried(first) {
		t.Error("fresh request should not be marked retried")
	}
	if !ledger.markRetried(first) {
		t.Error("first markRetried should succeed")
	}
	if ledger.markRetried(first) {
		t.Error("second markRetried must report the spent budget")
	}
	if !ledger.hasRetried(first) {
		t.Error("request should be marked retried")
	}
	if ledger.hasRetried(second) {
		t.Error("retry state must not leak between requests")
	}

	ledger.drop(first)
	ledger.drop(second)
	if ledger.inFlight() != 0 {
		t.Fatalf("inFlight after drop = %d, want 0", ledger.inFlight())
	}
}
