package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"specdeck/internal/auth"
	"specdeck/internal/domain/models"
	"specdeck/internal/httputil"
)

func testChain(t *testing.T) (*auth.Verifier, http.Handler, *models.Actor) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier, err := auth.NewVerifier("test-secret", logger)
	if err != nil {
		t.Fatal(err)
	}

	var seen models.Actor
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := httputil.ActorFromRequest(r); ok {
			seen = actor
		}
		w.WriteHeader(http.StatusOK)
	})
	return verifier, Auth(verifier)(inner), &seen
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	verifier, chain, seen := testChain(t)

	token, err := verifier.IssueToken("user-1", models.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen.UserID != "user-1" || seen.Role != models.RoleAdmin {
		t.Errorf("actor = %+v", seen)
	}
}

func TestAuthAcceptsQueryTokenOnGet(t *testing.T) {
	verifier, chain, seen := testChain(t)

	token, err := verifier.IssueToken("user-2", models.RoleAuthor, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/proposals/p-1/events?token="+token, nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen.UserID != "user-2" {
		t.Errorf("actor = %+v", seen)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	_, chain, _ := testChain(t)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	_, chain, _ := testChain(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthExemptsHealth(t *testing.T) {
	_, chain, _ := testChain(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
