package server

import (
	"net/http/httptest"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", " HTTPS://Example.COM ", "not an origin", ""}, testLogger())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"https://example.com", true},
		{"https://EXAMPLE.com", true},
		{"http://example.com", false},
		{"http://localhost:9090", false},
		{"null", false},
	}
	for _, tt := range tests {
		if got := policy.allows(tt.origin); got != tt.want {
			t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, testLogger())

	if !policy.allows("https://anywhere.example") {
		t.Error("wildcard policy rejected an origin")
	}
}

func TestCheckOrigin(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080"}, testLogger())

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	if !policy.checkOrigin(req) {
		t.Error("checkOrigin() rejected an allowed origin")
	}

	req.Header.Set("Origin", "https://evil.example")
	if policy.checkOrigin(req) {
		t.Error("checkOrigin() allowed a disallowed origin")
	}
}
