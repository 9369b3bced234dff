package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultServiceTokenTTL = 30 * time.Minute

var (
	errMissingSigningSecret = errors.New("service token: signing secret must be provided")
	errMissingSubjectClaim  = errors.New("service token: subject claim must be provided")
)

// ServiceTokenIssuerConfig configures the issuer used by non-interactive
// environments to obtain elevated store access.
type ServiceTokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ServiceTokenIssuer issues and validates the HS256 JWTs carried by the
// elevated service client.
type ServiceTokenIssuer struct {
	config ServiceTokenIssuerConfig
	clock  func() time.Time
}

// NewServiceTokenIssuer constructs a ServiceTokenIssuer with sane defaults.
func NewServiceTokenIssuer(cfg ServiceTokenIssuerConfig) *ServiceTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultServiceTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.TokenTTL = ttl
	cfg.Clock = clock
	return &ServiceTokenIssuer{config: cfg, clock: clock}
}

// IssueToken produces a signed JWT and its expiry in seconds for the named
// service subject.
func (i *ServiceTokenIssuer) IssueToken(subject string) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// TokenSource returns a reusable token provider for the subject. The minted
// token is cached and reissued once it comes within a minute of expiry, so
// callers can invoke the source per request without per-request signing.
func (i *ServiceTokenIssuer) TokenSource(subject string) func() (string, error) {
	var mu sync.Mutex
	var token string
	var expiresAt time.Time
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" && i.clock().Before(expiresAt.Add(-time.Minute)) {
			return token, nil
		}
		signed, expiresIn, err := i.IssueToken(subject)
		if err != nil {
			return "", err
		}
		token = signed
		expiresAt = i.clock().Add(time.Duration(expiresIn) * time.Second)
		return token, nil
	}
}

// ValidateToken ensures the service JWT is well formed and returns its subject.
func (i *ServiceTokenIssuer) ValidateToken(tokenString string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
