// Package history keeps per-guest conversation transcripts. Keys are
// derived from the resolved guest identity so a returning guest picks
// up the same transcript across channels. Stores cap each transcript
// and evict the oldest turns first.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/illoraretreats/concierge/internal/directory"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// DefaultCap bounds how many turns a transcript retains.
const DefaultCap = 50

type Store interface {
	Append(ctx context.Context, key string, turn Turn) error
	Recent(ctx context.Context, key string, n int) ([]Turn, error)
}

// KeyFor derives the transcript key for a guest. A resolved record wins
// with its email (lowercased) or client id; otherwise the raw channel
// identifier keys an unresolved visitor, and an anonymous session gets
// a fresh key so two strangers never share a transcript.
func KeyFor(rec *directory.GuestRecord, identifier string) string {
	if rec != nil {
		if email := strings.TrimSpace(rec.Email); email != "" {
			return strings.ToLower(email)
		}
		if id := strings.TrimSpace(rec.ClientID); id != "" {
			return id
		}
	}
	if id := strings.TrimSpace(identifier); id != "" {
		return "user_" + id
	}
	return "session_" + uuid.NewString()
}
