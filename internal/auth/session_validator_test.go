package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "session-test-secret"
	testIssuer        = "sincrogoo"
	testCookieName    = "sincrogoo_session"
)

func testClock() time.Time {
	return time.Unix(1756700000, 0).UTC()
}

func newTestSessionValidator(t *testing.T) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
		Clock:         testClock,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	return validator
}

func mintSessionToken(t *testing.T, secret, issuer, userID string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    userID,
		UserEmail: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(testClock().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestValidateTokenAcceptsWellFormedSession(t *testing.T) {
	validator := newTestSessionValidator(t)
	token := mintSessionToken(t, testSigningSecret, testIssuer, "user-1", testClock().Add(time.Hour))

	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID() != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.SubjectID())
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	validator := newTestSessionValidator(t)
	token := mintSessionToken(t, "another-secret", testIssuer, "user-1", testClock().Add(time.Hour))

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	validator := newTestSessionValidator(t)
	token := mintSessionToken(t, testSigningSecret, "someone-else", "user-1", testClock().Add(time.Hour))

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestValidateTokenRejectsExpiredSession(t *testing.T) {
	validator := newTestSessionValidator(t)
	token := mintSessionToken(t, testSigningSecret, testIssuer, "user-1", testClock().Add(-time.Hour))

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestValidateTokenRejectsEmptySubject(t *testing.T) {
	validator := newTestSessionValidator(t)
	token := mintSessionToken(t, testSigningSecret, testIssuer, "", testClock().Add(time.Hour))

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected ErrMissingSessionSubject, got %v", err)
	}
}

func TestValidateRequestPrefersBearerToken(t *testing.T) {
	validator := newTestSessionValidator(t)
	bearer := mintSessionToken(t, testSigningSecret, testIssuer, "bearer-user", testClock().Add(time.Hour))
	cookie := mintSessionToken(t, testSigningSecret, testIssuer, "cookie-user", testClock().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/projects", nil)
	request.Header.Set("Authorization", "Bearer "+bearer)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: cookie})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID() != "bearer-user" {
		t.Fatalf("expected the bearer token to win, got %s", claims.SubjectID())
	}
}

func TestValidateRequestFallsBackToCookie(t *testing.T) {
	validator := newTestSessionValidator(t)
	cookie := mintSessionToken(t, testSigningSecret, testIssuer, "cookie-user", testClock().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/projects", nil)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: cookie})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID() != "cookie-user" {
		t.Fatalf("unexpected subject: %s", claims.SubjectID())
	}
}

func TestValidateRequestWithoutSession(t *testing.T) {
	validator := newTestSessionValidator(t)

	request := httptest.NewRequest(http.MethodGet, "/projects", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected ErrMissingSessionToken, got %v", err)
	}
}

func TestNewSessionValidatorRequiresSecretAndIssuer(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected ErrMissingSessionSigningKey, got %v", err)
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("x")}); !errors.Is(err, ErrMissingSessionIssuer) {
		t.Fatalf("expected ErrMissingSessionIssuer, got %v", err)
	}
}
