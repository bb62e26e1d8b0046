package audit

import (
	"time"

	"dealflow/token"
)

// Role identifies which side of the deal the actor was on.
type Role string

const (
	RoleCreator   Role = "creator"
	RoleRecipient Role = "recipient"
)

// EventType enumerates the facts the ledger records.
type EventType string

const (
	EventDealCreated   EventType = "deal_created"
	EventDealViewed    EventType = "deal_viewed"
	EventDealSigned    EventType = "deal_signed"
	EventDealVoided    EventType = "deal_voided"
	EventPDFDownloaded EventType = "pdf_downloaded"
	EventTokenReissued EventType = "token_reissued"
)

// Entry is an immutable fact about something that happened to a deal.
// ActorID is nil for anonymous recipients.
type Entry struct {
	ID        int64
	DealID    string
	Type      EventType
	ActorID   *string
	ActorRole Role
	At        time.Time
	Metadata  map[string]any
}

// Authorization proves the caller may read a deal's history: either they
// are the creator, or they hold a token whose status is valid or used.
// Anonymous callers with neither get ErrForbidden, never a redacted list.
type Authorization struct {
	IsCreator   bool
	TokenStatus token.Status
}

// Allowed reports whether the ledger may be read under this authorization.
func (a Authorization) Allowed() bool {
	return a.IsCreator || a.TokenStatus == token.StatusValid || a.TokenStatus == token.StatusUsed
}
