package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func forwardedRequest(remote, forwarded, realIP string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	if realIP != "" {
		req.Header.Set("X-Real-IP", realIP)
	}
	return req
}

func TestNewTrustedProxies_RejectsInvalidEntries(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/8", "proxy.local"}); err == nil {
		t.Fatalf("expected hostname entry to be rejected")
	}
	proxies, err := NewTrustedProxies([]string{" ", "10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !proxies.Trusted("10.4.5.6") || !proxies.Trusted("192.0.2.7") || proxies.Trusted("192.0.2.8") {
		t.Fatalf("unexpected trust membership")
	}
	if !proxies.Trusted("::ffff:10.1.1.1") {
		t.Fatalf("expected v4-mapped address to match its v4 prefix")
	}
}

func TestTrustedProxies_KeyFunc(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := proxies.KeyFunc()

	cases := []struct {
		name      string
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{"untrusted peer ignores headers", "203.0.113.9:5000", "192.30.252.1", "192.30.252.2", "203.0.113.9"},
		{"trusted peer with forwarded client", "10.0.0.2:443", "192.30.252.1", "", "192.30.252.1"},
		{"spoofed leftmost hop skipped", "10.0.0.2:443", "1.2.3.4, 198.51.100.20, 10.0.0.3", "", "198.51.100.20"},
		{"trusted peer falls back to real ip", "10.0.0.2:443", "", "198.51.100.30", "198.51.100.30"},
		{"trusted peer without headers", "10.0.0.2:443", "", "", "10.0.0.2"},
		{"all hops trusted", "10.0.0.2:443", "10.0.0.5, 10.0.0.6", "", "10.0.0.5"},
		{"garbage real ip", "10.0.0.2:443", "", "not-an-ip", "10.0.0.2"},
	}
	for _, tc := range cases {
		if got := key(forwardedRequest(tc.remote, tc.forwarded, tc.realIP)); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestTrustedProxies_EmptyKeysOnRemoteAddr(t *testing.T) {
	key := TrustedProxies{}.KeyFunc()
	if got := key(forwardedRequest("10.0.0.2:443", "192.30.252.1", "")); got != "10.0.0.2" {
		t.Fatalf("expected remote host without trusted proxies, got %q", got)
	}
}
