package deal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no deal row exists for the identifier.
	ErrNotFound = errors.New("deal: not found")
	// ErrUnauthorized signals the caller has no verified identity.
	// Anonymous creation is disallowed; only signing may be anonymous.
	ErrUnauthorized = errors.New("deal: verified identity required")
	// ErrForbidden signals the caller lacks rights over this deal.
	ErrForbidden = errors.New("deal: forbidden")
	// ErrInvalidState signals the operation is illegal for the current status.
	ErrInvalidState = errors.New("deal: operation illegal for current status")
	// ErrAlreadySealed signals a concurrent caller won the sealing race.
	ErrAlreadySealed = errors.New("deal: already sealed")
	// ErrSelfSigning signals the recipient resolved to the deal's creator.
	ErrSelfSigning = errors.New("deal: creator cannot sign their own deal")
	// ErrTokenInvalid signals a malformed or mismatched token presentation.
	ErrTokenInvalid = errors.New("deal: token invalid")
	// ErrTokenExpired signals the presented token is past its expiry.
	ErrTokenExpired = errors.New("deal: token expired")
	// ErrTokenUsed signals the presented token already completed a signature.
	ErrTokenUsed = errors.New("deal: token already used")
	// ErrTransient wraps external dependency timeouts. The only error in
	// the taxonomy eligible for caller-side retry.
	ErrTransient = errors.New("deal: transient dependency failure")
)

// ValidationError reports malformed creation or sealing input. Missing
// lists the required term labels absent from the submission, when that is
// the reason.
type ValidationError struct {
	Reason  string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("deal: %s: %s", e.Reason, strings.Join(e.Missing, ", "))
	}
	return "deal: " + e.Reason
}
