package sshd

import "testing"

func TestIPRateLimiterThrottlesPerIP(t *testing.T) {
	l := newIPRateLimiter(1, 2)

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("expected third immediate attempt to be throttled")
	}
}

func TestIPRateLimiterTracksIndependently(t *testing.T) {
	l := newIPRateLimiter(1, 1)

	if !l.Allow("10.0.0.1") {
		t.Fatalf("expected first attempt from 10.0.0.1 to be allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("expected first attempt from a different IP to be unaffected")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("expected second immediate attempt from 10.0.0.1 to be throttled")
	}
}
