package trust

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProviderUnavailable wraps verification lookups that failed for
// transient reasons (timeout, unreachable store). Callers may retry;
// it must never be read as "not satisfied".
var ErrProviderUnavailable = errors.New("trust: verification provider unavailable")

// NotSatisfiedError reports that the recipient's current tier falls short
// of the deal's requirement. It carries both tiers so the caller can
// redirect into the appropriate verification step.
type NotSatisfiedError struct {
	Required Tier
	Actual   Tier
}

func (e *NotSatisfiedError) Error() string {
	return fmt.Sprintf("trust: tier %s required, recipient has %s", e.Required, e.Actual)
}

// Provider is the external verification collaborator. HighestTier returns
// the strongest tier the recipient has satisfied for the deal, or
// TierBasic when no verification record exists.
type Provider interface {
	HighestTier(ctx context.Context, dealID string, rcpt RecipientContext) (Tier, error)
}

const defaultLookupTimeout = 5 * time.Second

// Gate decides whether a recipient may proceed to signing. Lookups are
// re-evaluated on every call; results are never cached because a
// recipient can hold multiple tabs open against the same deal.
type Gate struct {
	provider Provider
	timeout  time.Duration
}

// NewGate builds a gate over the given provider. A nil provider is
// acceptable when every deal uses TierBasic.
func NewGate(provider Provider, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Gate{provider: provider, timeout: timeout}
}

// IsSatisfied returns nil when the recipient meets the required tier, a
// *NotSatisfiedError when they fall short, and an error wrapping
// ErrProviderUnavailable when the provider could not answer in time.
func (g *Gate) IsSatisfied(ctx context.Context, dealID string, required Tier, rcpt RecipientContext) error {
	if !required.Valid() {
		return fmt.Errorf("trust: unknown tier %q", required)
	}
	if required == TierBasic {
		return nil
	}
	if g.provider == nil {
		return &NotSatisfiedError{Required: required, Actual: TierBasic}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	actual, err := g.provider.HighestTier(ctx, dealID, rcpt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("trust: lookup verification: %w", err)
	}
	if !actual.AtLeast(required) {
		return &NotSatisfiedError{Required: required, Actual: actual}
	}
	return nil
}
