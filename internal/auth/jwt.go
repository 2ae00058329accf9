package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"specdeck/internal/domain"
	"specdeck/internal/domain/models"
)

// Claims are the JWT claims this service issues and accepts. The subject
// is the user ID; Role must name a known role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens and maps them to actors.
type Verifier struct {
	secret []byte
	logger *slog.Logger
}

// NewVerifier creates a token verifier. The secret must be non-empty.
func NewVerifier(secret string, logger *slog.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &Verifier{secret: []byte(secret), logger: logger}, nil
}

// VerifyToken parses and validates a token string, returning the actor it
// identifies. Every failure maps to domain.ErrUnauthorized; details go to
// the log, not the client.
func (v *Verifier) VerifyToken(tokenString string) (models.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		// Pin the algorithm to prevent confusion attacks.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		v.logger.Debug("token parse failed", "error", err)
		return models.Actor{}, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Actor{}, domain.ErrUnauthorized
	}
	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return models.Actor{}, domain.ErrUnauthorized
	}

	role := models.Role(claims.Role)
	switch role {
	case models.RoleAuthor, models.RoleReviewer, models.RoleAdmin:
	default:
		v.logger.Warn("token carries unknown role", "role", claims.Role, "user_id", claims.Subject)
		return models.Actor{}, domain.ErrUnauthorized
	}

	return models.Actor{UserID: claims.Subject, Role: role}, nil
}

// IssueToken signs a token for a user. Used by tests and local tooling;
// production tokens come from the identity provider.
func (v *Verifier) IssueToken(userID string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
