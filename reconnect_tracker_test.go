package main

import (
	"testing"
	"time"
)

func TestReconnectTrackerNilWhenDisabled(t *testing.T) {
	if rt := newReconnectTracker(0, time.Second, time.Second); rt != nil {
		t.Fatalf("expected nil tracker for zero threshold")
	}
	var rt *reconnectTracker
	if !rt.allow("1.2.3.4", time.Now()) {
		t.Fatalf("nil tracker must allow every connection")
	}
}

func TestReconnectTrackerBansAfterThreshold(t *testing.T) {
	rt := newReconnectTracker(2, time.Minute, time.Hour)
	now := time.Now()

	if !rt.allow("1.2.3.4", now) {
		t.Fatalf("1st connection should be allowed")
	}
	if !rt.allow("1.2.3.4", now) {
		t.Fatalf("2nd connection should be allowed")
	}
	if rt.allow("1.2.3.4", now) {
		t.Fatalf("3rd connection should be banned")
	}
	if !rt.allow("5.6.7.8", now) {
		t.Fatalf("a different host should be unaffected")
	}
}

func TestReconnectTrackerWindowResets(t *testing.T) {
	rt := newReconnectTracker(1, time.Minute, time.Second)
	now := time.Now()

	if !rt.allow("1.2.3.4", now) {
		t.Fatalf("1st connection should be allowed")
	}
	if rt.allow("1.2.3.4", now) {
		t.Fatalf("2nd connection within threshold window should be banned")
	}
	if !rt.allow("1.2.3.4", now.Add(2*time.Hour)) {
		t.Fatalf("connection after ban duration elapses should be allowed again")
	}
}
