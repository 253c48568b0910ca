package model

import "time"

// Identity is a verified caller identity supplied by the authentication layer.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity is admin-capable.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// User is an identity known to the local directory. Admin users are the pool
// conversations are assigned from.
type User struct {
	ID         string
	Role       Role
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

// PresenceResponse reports a user's presence.
type PresenceResponse struct {
	UserID     string     `json:"userId"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}
