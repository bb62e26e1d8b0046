package token

import "time"

// Status is the derived state of an access token.
type Status string

const (
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
	StatusUsed    Status = "used"
)

// AccessToken is a bearer capability scoped to exactly one deal. The
// secret is the only credential an anonymous recipient needs.
type AccessToken struct {
	Secret    string
	DealID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// StatusAt derives the reportable status at the given instant. Used wins
// over expired: a completed signature should read as completed, not as
// merely stale.
func (t AccessToken) StatusAt(now time.Time) Status {
	if t.Used {
		return StatusUsed
	}
	if now.After(t.ExpiresAt) {
		return StatusExpired
	}
	return StatusValid
}
