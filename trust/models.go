package trust

import "time"

// Tier is the level of recipient identity assurance a deal demands
// before a signature is accepted.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierVerified Tier = "verified"
	TierStrong   Tier = "strong"
	TierMaximum  Tier = "maximum"
)

var tierRank = map[Tier]int{
	TierBasic:    0,
	TierVerified: 1,
	TierStrong:   2,
	TierMaximum:  3,
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t satisfies a requirement of other.
func (t Tier) AtLeast(other Tier) bool {
	return tierRank[t] >= tierRank[other]
}

// Verification records that a recipient satisfied one check for a deal.
// Rows are produced by the external verification provider; the gate only
// reads them.
type Verification struct {
	ID              string
	DealID          string
	Tier            Tier
	RecipientEmail  *string
	RecipientUserID *string
	VerifiedAt      time.Time
	ProofRef        string
}

// RecipientContext identifies the party attempting to sign. Either field
// may be empty for anonymous recipients, in which case only basic-tier
// deals are signable.
type RecipientContext struct {
	Email  string
	UserID string
}
