package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDistfsChallengeUpdatesGauges(t *testing.T) {
	c := NewCollector(nil)
	c.RecordDistfsChallenge(10, 1)

	if got := testutil.ToFloat64(c.distfsChecksTotal); got != 10 {
		t.Fatalf("expected 10 total checks, got %v", got)
	}
	if got := testutil.ToFloat64(c.distfsFailedChecks); got != 1 {
		t.Fatalf("expected 1 failed check, got %v", got)
	}
}

func TestRecordSettlementIncrementsAttempts(t *testing.T) {
	c := NewCollector(nil)
	c.RecordSettlement(500)
	c.RecordSettlement(700)

	if got := testutil.ToFloat64(c.settlementMintedPoints); got != 700 {
		t.Fatalf("expected latest minted points 700, got %v", got)
	}
	if got := testutil.ToFloat64(c.settlementApplyAttempts); got != 2 {
		t.Fatalf("expected 2 settlement attempts, got %v", got)
	}
}

func TestRecordSandboxTrapLabelsByKind(t *testing.T) {
	c := NewCollector(nil)
	c.RecordSandboxTrap("timeout")
	c.RecordSandboxTrap("timeout")
	c.RecordSandboxTrap("trap")

	if got := testutil.ToFloat64(c.sandboxTrapsTotal.WithLabelValues("timeout")); got != 2 {
		t.Fatalf("expected 2 timeout traps, got %v", got)
	}
	if got := testutil.ToFloat64(c.sandboxTrapsTotal.WithLabelValues("trap")); got != 1 {
		t.Fatalf("expected 1 trap, got %v", got)
	}
}
