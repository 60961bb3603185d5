package main

import "testing"

func TestProxyMetricsRecordShare(t *testing.T) {
	m := newProxyMetrics()
	m.recordShare(true, "")
	m.recordShare(false, "low difficulty")
	m.recordShare(false, "low difficulty")
	m.recordShare(false, "")

	snap := m.Snapshot()
	if snap.SharesSubmitted != 4 {
		t.Fatalf("SharesSubmitted = %d, want 4", snap.SharesSubmitted)
	}
	if snap.SharesAccepted != 1 {
		t.Fatalf("SharesAccepted = %d, want 1", snap.SharesAccepted)
	}
	if snap.SharesRejected != 3 {
		t.Fatalf("SharesRejected = %d, want 3", snap.SharesRejected)
	}
	if snap.RejectReasons["low difficulty"] != 2 {
		t.Fatalf("RejectReasons[low difficulty] = %d, want 2", snap.RejectReasons["low difficulty"])
	}
	if snap.RejectReasons["unspecified"] != 1 {
		t.Fatalf("RejectReasons[unspecified] = %d, want 1", snap.RejectReasons["unspecified"])
	}
}

func TestProxyMetricsNilSafe(t *testing.T) {
	var m *proxyMetrics
	// All methods on a nil *proxyMetrics must be no-ops, since session.go
	// calls recordShare without checking whether metrics tracking is set.
	m.incSessionsStarted()
	m.incSessionsEnded()
	m.incUpstreamDialFailures()
	m.incHandshake(true)
	m.incReconnectBanned()
	m.recordShare(true, "")
	if snap := m.Snapshot(); snap.SessionsStarted != 0 {
		t.Fatalf("expected zero-value snapshot from nil metrics, got %+v", snap)
	}
}

func TestProxyMetricsHandshakeCounters(t *testing.T) {
	m := newProxyMetrics()
	m.incHandshake(true)
	m.incHandshake(true)
	m.incHandshake(false)

	snap := m.Snapshot()
	if snap.HandshakesOK != 2 || snap.HandshakesFailed != 1 {
		t.Fatalf("got ok=%d failed=%d, want ok=2 failed=1", snap.HandshakesOK, snap.HandshakesFailed)
	}
}
