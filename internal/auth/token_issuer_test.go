package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(secret string) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "tsudoi-auth",
		Audience:      "tsudoi-api",
		TokenTTL:      30 * time.Minute,
	})
}

func TestTokenIssuerIssuesBackendTokens(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	tokenString, expiresIn, err := issuer.IssueBackendToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "tsudoi-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "tsudoi-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "tsudoi-auth",
		Audience: "tsudoi-api",
	})

	if _, _, err := issuer.IssueBackendToken(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected issuance to fail without a signing secret")
	}
	if _, err := issuer.ValidateToken("whatever"); err == nil {
		t.Fatalf("expected validation to fail without a signing secret")
	}
}

func TestTokenIssuerRejectsEmptySubject(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	if _, _, err := issuer.IssueBackendToken(context.Background(), ""); err == nil {
		t.Fatalf("expected issuance to fail for empty subject")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer("another-secret")

	tokenString, _, err := issuer.IssueBackendToken(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "user-321" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer("secret-a")
	other := newTestIssuer("secret-b")

	tokenString, _, err := other.IssueBackendToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	if _, err := issuer.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail for a token signed with another secret")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issued := time.Unix(1734680000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "tsudoi-auth",
		Audience:      "tsudoi-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued },
	})

	tokenString, _, err := issuer.IssueBackendToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "tsudoi-auth",
		Audience:      "tsudoi-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued.Add(2 * time.Minute) },
	})
	if _, err := later.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail for an expired token")
	}
}
