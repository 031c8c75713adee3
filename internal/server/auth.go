package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/playperu/livequiz/internal/auth"
)

var errNoToken = errors.New("no bearer token")

// tokenFromRequest reads the bearer token from the Authorization header.
// Browsers cannot set headers on EventSource or WebSocket requests, so
// the token query parameter is accepted as well.
func tokenFromRequest(r *http.Request) (string, error) {
	if raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found && raw != "" {
		return raw, nil
	}
	if raw := r.URL.Query().Get("token"); raw != "" {
		return raw, nil
	}
	return "", errNoToken
}

// canSeeEvent reports whether id may read eventID. Participant tokens are
// bound to the event they joined; host ownership is checked by the engine
// on every mutation.
func canSeeEvent(id auth.Identity, eventID string) bool {
	switch id.Role {
	case auth.RoleHost:
		return true
	case auth.RoleParticipant:
		return id.EventID == eventID
	}
	return false
}
