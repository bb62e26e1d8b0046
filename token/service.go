package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	// DefaultTTL bounds how long a share link stays usable.
	DefaultTTL = 7 * 24 * time.Hour

	defaultLookupTimeout = 5 * time.Second

	secretBytes = 32
)

// Service is the access token authority. It is the only component that
// mints, validates, or consumes tokens.
type Service struct {
	repo    Repository
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewService(repo Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:    repo,
		ttl:     ttl,
		timeout: defaultLookupTimeout,
		now:     time.Now,
	}
}

// NewSecret returns a fresh bearer secret with 256 bits of entropy,
// hex-encoded.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue mints a token for the deal inside the caller's transaction.
// Re-issuance never invalidates prior tokens; the latest-issued token is
// the one returned to the creator for sharing.
func (s *Service) Issue(ctx context.Context, tx pgx.Tx, dealID string) (AccessToken, error) {
	if dealID == "" {
		return AccessToken{}, fmt.Errorf("token: deal id required")
	}
	secret, err := NewSecret()
	if err != nil {
		return AccessToken{}, err
	}

	now := s.now().UTC()
	t := AccessToken{
		Secret:    secret,
		DealID:    dealID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Insert(ctx, tx, t); err != nil {
		return AccessToken{}, err
	}
	return t, nil
}

// Validate derives the status of the presented secret for the deal. A
// missing token or a public id that does not match the deal binding
// reports StatusExpired, so probing cannot distinguish "never existed"
// from "no longer usable". Storage timeouts bubble up as context errors
// and must not be read as a token verdict.
func (s *Service) Validate(ctx context.Context, dealID, secret, publicID string) (Status, error) {
	if dealID == "" || secret == "" {
		return StatusExpired, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, boundPublicID, err := s.repo.GetWithPublicID(ctx, dealID, secret)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusExpired, nil
		}
		return "", err
	}
	if publicID != "" && boundPublicID != publicID {
		return StatusExpired, nil
	}
	return t.StatusAt(s.now()), nil
}

// MarkUsed consumes the token inside the caller's transaction. Idempotent.
func (s *Service) MarkUsed(ctx context.Context, tx pgx.Tx, dealID, secret string) error {
	return s.repo.MarkUsed(ctx, tx, dealID, secret)
}

// LatestStatus returns the most recently issued token and its derived
// status, for the creator dashboard and recipient page load.
func (s *Service) LatestStatus(ctx context.Context, dealID string) (AccessToken, Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := s.repo.Latest(ctx, dealID)
	if err != nil {
		return AccessToken{}, "", err
	}
	return t, t.StatusAt(s.now()), nil
}
