package store

import (
	"fmt"

	"go.uber.org/zap"
)

// CredentialKind identifies which rung of the client-selection ladder served
// a request.
type CredentialKind string

const (
	CredentialSession   CredentialKind = "session"
	CredentialService   CredentialKind = "service"
	CredentialAnonymous CredentialKind = "anonymous"
)

// Credentials carries the authentication outcome of a request into client
// selection. Subject is empty when no session was presented.
type Credentials struct {
	Subject      string
	SessionValid bool
}

// SelectorConfig wires the clients available per credential rung. A nil
// client marks the rung unavailable.
type SelectorConfig struct {
	Session    Client
	Service    Client
	Anonymous  Client
	Production bool
	Logger     *zap.Logger
}

// Selector picks the most privileged usable client for a request: session
// first, then the elevated service client, then anonymous. Production
// environments fail closed instead of downgrading to anonymous access.
type Selector struct {
	session    Client
	service    Client
	anonymous  Client
	production bool
	logger     *zap.Logger
}

// NewSelector constructs the client selector.
func NewSelector(cfg SelectorConfig) *Selector {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		session:    cfg.Session,
		service:    cfg.Service,
		anonymous:  cfg.Anonymous,
		production: cfg.Production,
		logger:     logger,
	}
}

// ClientFor resolves the store client to use for the supplied credentials.
func (s *Selector) ClientFor(credentials Credentials) (Client, CredentialKind, error) {
	if credentials.SessionValid && s.session != nil {
		return s.session, CredentialSession, nil
	}

	if s.service != nil {
		s.logger.Info("store client downgraded to service credentials",
			zap.String("subject", credentials.Subject))
		return s.service, CredentialService, nil
	}

	if s.anonymous != nil {
		if s.production {
			return nil, "", fmt.Errorf("%w: anonymous access rejected in production", ErrNotAuthenticated)
		}
		s.logger.Warn("store client downgraded to anonymous access",
			zap.String("subject", credentials.Subject))
		return s.anonymous, CredentialAnonymous, nil
	}

	return nil, "", ErrNotAuthenticated
}
