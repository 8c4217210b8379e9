package jit

import "time"

// Status is the lifecycle state of an access request.
// PENDING -> APPROVED -> {REVOKED, EXPIRED}; PENDING -> REJECTED.
// REJECTED, REVOKED and EXPIRED are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusRevoked  Status = "REVOKED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether no further transition is valid from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// AccessRequest is a request for, or an active/historical grant of,
// temporary access to one exact resource.
type AccessRequest struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      string    `json:"resource_id"`
	Reason          string    `json:"reason"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	RequestedAt     time.Time `json:"requested_at"`
	DecidedAt       time.Time `json:"decided_at,omitzero"`
	DecidedBy       string    `json:"decided_by,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
}

// ActiveAt is the live grant predicate: APPROVED and not yet expired. This,
// not the stored status, is what authorization decisions consult.
func (r *AccessRequest) ActiveAt(now time.Time) bool {
	return r.Status == StatusApproved && now.Before(r.ExpiresAt)
}
