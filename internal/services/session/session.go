// Package session keeps short-lived conversation state for multi-step chat
// dialogs, such as a registration or a request being filled in. Entries
// expire on their own so an abandoned dialog never lingers.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL bounds how long an idle dialog is kept.
const DefaultTTL = 30 * time.Minute

var (
	// ErrNotFound indicates no live session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrIDRequired indicates a blank session id.
	ErrIDRequired = errors.New("session id is required")
)

// Session is one dialog in progress. Step names the question the user is
// answering; Fields holds the answers collected so far.
type Session struct {
	ID        string            `json:"id"`
	Step      string            `json:"step"`
	Fields    map[string]string `json:"fields,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether s is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions with expiry.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	// Put saves s. A zero ExpiresAt is replaced by now plus the store TTL.
	Put(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, id string) error
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrIDRequired
	}
	return id, nil
}

func cloneFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
