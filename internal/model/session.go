package model

import "time"

// Phase is the session lifecycle state. A session exists if and only if the
// phase is Authenticated; Anonymous is the canonical logged-out state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAuthenticated
	PhaseAnonymous
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// User is the authenticated principal as normalized from the backend's login
// response. ChangePassword set means the user must pick a new password before
// reaching any other authenticated route.
type User struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Department       string `json:"department,omitempty"`
	Role             string `json:"role,omitempty"`
	ChangePassword   bool   `json:"change_password"`
	ShowNotification bool   `json:"show_notification"`
}

// Clone returns a copy so callers can hand snapshots out without exposing
// the manager's internal pointer.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ProfileUpdate is a partial overlay applied to the cached user. Nil fields
// are left untouched. This is an optimistic cache update only; the server
// write happens separately through the proxied profile endpoint.
type ProfileUpdate struct {
	Email      *string `json:"email,omitempty"`
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
}

// Apply merges the non-nil fields into the user.
func (p ProfileUpdate) Apply(u *User) {
	if u == nil {
		return
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Department != nil {
		u.Department = *p.Department
	}
}

// LicenseStatus is informational only; the gateway never enforces it.
type LicenseStatus struct {
	Valid     bool      `json:"valid"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Snapshot is a consistent read of the session state for handlers and the
// route guard.
type Snapshot struct {
	Phase               Phase          `json:"phase"`
	Loading             bool           `json:"loading"`
	User                *User          `json:"user,omitempty"`
	License             *LicenseStatus `json:"license_status,omitempty"`
	NeedsPasswordChange bool           `json:"needs_password_change"`
}

// Result is the uniform outcome of session operations. Errors never cross
// the session manager's boundary as anything but this shape.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func OK(message string) Result {
	return Result{Success: true, Message: message}
}

func Fail(err string) Result {
	return Result{Success: false, Error: err}
}
