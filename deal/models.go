package deal

import (
	"time"

	"dealflow/token"
	"dealflow/trust"
)

// Status is the lifecycle state of a deal. The machine is
// pending -> sealing -> confirmed on the happy path, pending -> voided,
// and sealing -> pending on an aborted seal write. confirmed and voided
// are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSealing   Status = "sealing"
	StatusConfirmed Status = "confirmed"
	StatusVoided    Status = "voided"
)

// Term is one labelled value of the agreement.
type Term struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Deal mirrors the deals table. ID is internal and authorization
// sensitive; PublicID is the shareable identifier used in URLs and must
// never leak ID. ConfirmedAt, Signature, and SealFingerprint are either
// all unset or all set, and once set never change.
type Deal struct {
	ID              string
	PublicID        string
	Title           string
	Description     string
	TemplateRef     string
	Terms           []Term
	CreatorID       string
	RecipientName   string
	RecipientEmail  *string
	RecipientID     *string
	RequiredTier    trust.Tier
	Status          Status
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	Signature       *string
	SealFingerprint *string
}

// CreateParams enumerates the caller-supplied fields for a new deal.
type CreateParams struct {
	Title          string
	Description    string
	TemplateRef    string
	Terms          []Term
	RecipientName  string
	RecipientEmail *string
	RequiredTier   trust.Tier
}

// SealParams carries one sealing attempt. RecipientUserID is set when a
// signed-in recipient signs; RecipientEmail when an anonymous one
// supplies an address for the receipt.
type SealParams struct {
	DealID          string
	PublicID        string
	Secret          string
	Signature       string
	SignatureMethod string
	RecipientEmail  *string
	RecipientUserID *string
}

// ConfirmUpdate is the single conditional write that seals a deal.
type ConfirmUpdate struct {
	DealID          string
	Signature       string
	SealFingerprint string
	RecipientID     *string
	RecipientEmail  *string
}

// StatusView is the read-only projection deciding what a viewer may see.
type StatusView struct {
	Status      Status
	TokenStatus token.Status
	Authorized  bool
}
