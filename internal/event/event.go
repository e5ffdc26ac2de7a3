package event

import "time"

type Type string

const (
	TypeSessionAuthenticated Type = "session.authenticated"
	TypeSessionRestored      Type = "session.restored"
	TypeSessionCleared       Type = "session.cleared"
	TypeSessionExpired       Type = "session.expired"
	TypeLicenseUpdated       Type = "license.updated"
	TypePasswordChanged      Type = "password.changed"
	TypeProfileUpdated       Type = "profile.updated"
)

// Event is broadcast to every open console tab so all of them react to a
// logout or expiry at once instead of discovering it on their next request.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}
