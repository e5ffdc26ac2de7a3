// Package store persists the operator's session durably across gateway
// restarts. Both backends share the same contract: a missing or unreadable
// record loads as absent, and Clear removes every piece of the record so a
// caller can never observe a partially cleared session.
package store

import (
	"context"
	"time"

	"dw-console-gateway/internal/model"
)

// Record is everything the gateway keeps about the current session.
type Record struct {
	Token   string               `json:"token"`
	User    *model.User          `json:"user"`
	License *model.LicenseStatus `json:"license_status,omitempty"`
	SavedAt time.Time            `json:"saved_at"`
}

type SessionStore interface {
	// Save replaces the persisted record with rec.
	Save(ctx context.Context, rec Record) error
	// Load returns the persisted record. ok is false when nothing usable is
	// stored; corruption is treated as absence, not as an error.
	Load(ctx context.Context) (rec Record, ok bool, err error)
	// Clear removes the persisted record. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}
