package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	return New(Config{
		Username:     "admin",
		PasswordHash: string(hash),
		JWTSecret:    []byte("test-secret"),
	})
}

func TestAuthenticateNoAuthBypassesEverything(t *testing.T) {
	a := New(Config{NoAuth: true})
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	if err := a.Authenticate(r); err != nil {
		t.Fatalf("expected no-auth to always pass, got %v", err)
	}
}

func TestAuthenticateBasicAuth(t *testing.T) {
	a := newTestAuthenticator(t)
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.SetBasicAuth("admin", "correct-horse")
	if err := a.Authenticate(r); err != nil {
		t.Fatalf("expected valid basic auth to pass, got %v", err)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	a := newTestAuthenticator(t)
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.SetBasicAuth("admin", "wrong")
	if err := a.Authenticate(r); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.IssueToken("remote-1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := a.VerifyToken(token); err != nil {
		t.Fatalf("expected issued token to verify, got %v", err)
	}
	if err := a.VerifyToken(token + "tampered"); err == nil {
		t.Fatal("expected tampered token to fail verification")
	}
}

func TestAuthenticateBearerToken(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.IssueToken("remote-1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/buffers?token="+token, nil)
	if err := a.Authenticate(r); err != nil {
		t.Fatalf("expected query-param bearer token to pass, got %v", err)
	}
}

func TestAuthenticateLocalBypass(t *testing.T) {
	a := New(Config{
		AllowLocalBypass: true,
		LocalAuthToken:   "local-secret",
		JWTSecret:        []byte("test-secret"),
	})
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	r.Header.Set("X-VibeTunnel-Local", "local-secret")
	if err := a.Authenticate(r); err != nil {
		t.Fatalf("expected local bypass to pass, got %v", err)
	}
}
