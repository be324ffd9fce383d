package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyed_AllowsUpToRate(t *testing.T) {
	l := NewKeyed(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("6th request should be denied")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("other keys have their own window")
	}
}

func TestKeyed_ResetsAfterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewKeyed(2, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("3rd should be denied")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow("a") {
		t.Fatal("after window reset should be allowed")
	}
}

func TestKeyed_ZeroRateDisables(t *testing.T) {
	l := NewKeyed(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatal("zero rate should never deny")
		}
	}
}

func TestKeyed_Cleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewKeyed(1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(30 * time.Second)
	l.Allow("fresh")
	now = now.Add(45 * time.Second)

	if n := l.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestClientIP_IgnoresForwardedFromUntrustedPeer(t *testing.T) {
	var none Proxies
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := none.ClientIP(r); got != "10.0.0.7" {
		t.Errorf("ClientIP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := none.ClientIP(r); got != "10.0.0.7" {
		t.Errorf("ClientIP with spoofed XFF = %q, want the peer", got)
	}
}

func TestClientIP_TrustedProxy(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8", "::1"})
	if err != nil {
		t.Fatalf("ParseProxies: %v", err)
	}

	tests := []struct {
		remote, xff, want string
	}{
		{"10.0.0.7:5555", "", "10.0.0.7"},
		{"10.0.0.7:5555", "203.0.113.9", "203.0.113.9"},
		{"10.0.0.7:5555", "198.51.100.1, 203.0.113.9", "203.0.113.9"},
		{"10.0.0.7:5555", "203.0.113.9, 10.1.1.1", "203.0.113.9"},
		{"10.0.0.7:5555", "10.2.2.2, 10.1.1.1", "10.2.2.2"},
		{"[::1]:5555", "203.0.113.9", "203.0.113.9"},
		{"192.0.2.1:5555", "203.0.113.9", "192.0.2.1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if tt.xff != "" {
			r.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := proxies.ClientIP(r); got != tt.want {
			t.Errorf("ClientIP(%s, XFF %q) = %q, want %q", tt.remote, tt.xff, got, tt.want)
		}
	}
}

func TestParseProxies_RejectsGarbage(t *testing.T) {
	for _, bad := range []string{"proxy.local", "10.0.0.0/33", ""} {
		if _, err := ParseProxies([]string{bad}); err == nil {
			t.Errorf("ParseProxies(%q) accepted", bad)
		}
	}
}
