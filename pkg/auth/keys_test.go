package auth

import (
	"net/http"
	"testing"
)

func TestKeyStoreAuthenticate(t *testing.T) {
	s := NewKeyStore()

	key, err := GenerateKey("key-1")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := s.Add(key); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	identity, err := s.Authenticate(key)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if identity != "key-1" {
		t.Errorf("identity = %q, want key-1", identity)
	}

	if _, err := s.Authenticate("key-1.wrongsecret"); err != ErrUnauthorized {
		t.Errorf("wrong secret should fail, got %v", err)
	}
	if _, err := s.Authenticate("unknown.secret"); err != ErrUnauthorized {
		t.Errorf("unknown identity should fail, got %v", err)
	}
	if _, err := s.Authenticate("noprefix"); err != ErrUnauthorized {
		t.Errorf("key without prefix should fail, got %v", err)
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"bearer abc123", ""},
		{"Basic abc123", ""},
		{"", ""},
	}

	for _, tt := range tests {
		r, _ := http.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := ParseBearer(r); got != tt.want {
			t.Errorf("ParseBearer(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("token", "token") {
		t.Error("equal strings should compare true")
	}
	if SecureCompare("token", "other") {
		t.Error("different strings should compare false")
	}
}
