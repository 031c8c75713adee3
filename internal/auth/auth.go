// Package auth issues and verifies the bearer tokens that identify hosts
// and joined participants.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/playperu/livequiz/internal/livequiz"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	jwt.RegisteredClaims
	Role    Role   `json:"role"`
	EventID string `json:"eid,omitempty"`
}

// Identity is the verified holder of a token.
type Identity struct {
	Role          Role
	UserID        string
	ParticipantID string
	EventID       string
}

func (id Identity) Caller() livequiz.Caller {
	switch id.Role {
	case RoleHost:
		return livequiz.Caller{UserID: id.UserID}
	case RoleParticipant:
		return livequiz.Caller{ParticipantID: id.ParticipantID}
	}
	return livequiz.Caller{}
}

// Tokens signs HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewTokens(secret string, ttl time.Duration, clock clockwork.Clock) *Tokens {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, clock: clock}
}

// IssueParticipant returns a token binding participantID to eventID.
func (t *Tokens) IssueParticipant(eventID, participantID string) (string, error) {
	return t.sign(claims{
		RegisteredClaims: t.registered(participantID, t.ttl),
		Role:             RoleParticipant,
		EventID:          eventID,
	})
}

// IssueHost returns a host token for userID. Host accounts are managed
// outside this service; this is used by tooling and tests.
func (t *Tokens) IssueHost(userID string, ttl time.Duration) (string, error) {
	return t.sign(claims{
		RegisteredClaims: t.registered(userID, ttl),
		Role:             RoleHost,
	})
}

func (t *Tokens) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := t.clock.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (t *Tokens) sign(c claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

func (t *Tokens) Verify(raw string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	switch c.Role {
	case RoleHost:
		return Identity{Role: RoleHost, UserID: c.Subject}, nil
	case RoleParticipant:
		if c.EventID == "" {
			return Identity{}, fmt.Errorf("%w: participant token without event", ErrInvalidToken)
		}
		return Identity{Role: RoleParticipant, ParticipantID: c.Subject, EventID: c.EventID}, nil
	}
	return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
}
