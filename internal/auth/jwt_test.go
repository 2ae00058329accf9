package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
)

func newVerifier(t *testing.T, secret string) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t, "test-secret")

	token, err := v.IssueToken("user-1", models.RoleReviewer, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	actor, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if actor.UserID != "user-1" || actor.Role != models.RoleReviewer {
		t.Errorf("actor = %+v", actor)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newVerifier(t, "secret-a")
	verifier := newVerifier(t, "secret-b")

	token, err := issuer.IssueToken("user-1", models.RoleAuthor, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want unauthorized", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := newVerifier(t, "test-secret")

	token, err := v.IssueToken("user-1", models.RoleAuthor, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.VerifyToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want unauthorized", err)
	}
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	v := newVerifier(t, "test-secret")

	token, err := v.IssueToken("user-1", models.Role("superuser"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.VerifyToken(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("error = %v, want unauthorized", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := newVerifier(t, "test-secret")

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := v.VerifyToken(token); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("token %q: error = %v, want unauthorized", token, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("", slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
