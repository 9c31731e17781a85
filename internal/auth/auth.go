// Package auth holds the client side of the session: the bearer token
// issued by the auth collaborator and the identity claims inside it.
// Signature verification happens on the server (the HMAC secret never
// ships with the client); the session still rejects expired tokens and
// notifies listeners on every identity change so mirrors can tear down.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/limbo/cadence/internal/errvalues"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Listener is invoked after every sign-in, sign-out or user switch with
// the now-current user id ("" when signed out).
type Listener func(userID string)

type Session struct {
	mu        sync.Mutex
	token     string
	claims    *Claims
	listeners []Listener
	logger    *slog.Logger
}

func NewSession() *Session {
	return &Session{
		logger: slog.Default().With(slog.String("component", "auth")),
	}
}

// SignIn installs a session token. A sign-in over an existing session
// for a different user behaves as a user switch: listeners fire once
// with the new identity.
func (s *Session) SignIn(token string) error {
	claims, err := parseClaims(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.claims = claims
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	s.logger.Info("signed in", slog.String("uid", claims.UserID))
	notify(listeners, claims.UserID)
	return nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	wasAuthenticated := s.claims != nil
	s.token = ""
	s.claims = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	if !wasAuthenticated {
		return
	}
	s.logger.Info("signed out")
	notify(listeners, "")
}

func (s *Session) Authenticated() bool {
	return s.UserID() != ""
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims == nil {
		return ""
	}
	return s.claims.UserID
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims == nil {
		return ""
	}
	return s.claims.Username
}

// Token implements remote.TokenSource.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func notify(listeners []Listener, userID string) {
	for _, l := range listeners {
		l(userID)
	}
}

func parseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errvalues.ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, errors.New("token carries no user_id claim")
	}
	now := time.Now()
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(now) {
		return nil, errvalues.ErrTokenExpired
	}
	if claims.NotBefore != nil && claims.NotBefore.Time.After(now) {
		return nil, errvalues.ErrInvalidToken
	}
	return claims, nil
}
