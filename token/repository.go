package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that no token row exists for the lookup. The
	// service folds it into StatusExpired before it reaches callers so
	// token existence never leaks.
	ErrNotFound = errors.New("token: not found")
)

// Repository is the data access the authority needs. Write methods take
// the caller's transaction so issuance and consumption stay atomic with
// the deal transition they belong to.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, t AccessToken) error
	GetWithPublicID(ctx context.Context, dealID, secret string) (AccessToken, string, error)
	Latest(ctx context.Context, dealID string) (AccessToken, error)
	MarkUsed(ctx context.Context, tx pgx.Tx, dealID, secret string) error
}

// PGRepository implements Repository over the access_tokens table.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, t AccessToken) error {
	const insertSQL = `
		INSERT INTO access_tokens (deal_id, secret, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insertSQL, t.DealID, t.Secret, t.IssuedAt, t.ExpiresAt); err != nil {
		return fmt.Errorf("token: insert: %w", err)
	}
	return nil
}

// GetWithPublicID loads the token and the public id of its owning deal so
// the service can confirm the presented public id matches the binding.
func (r *PGRepository) GetWithPublicID(ctx context.Context, dealID, secret string) (AccessToken, string, error) {
	const selectSQL = `
		SELECT t.secret, t.deal_id, t.issued_at, t.expires_at, t.used, d.public_id::text
		FROM access_tokens t
		JOIN deals d ON d.id = t.deal_id
		WHERE t.deal_id = $1 AND t.secret = $2
	`

	var (
		t        AccessToken
		publicID string
	)
	err := r.pool.QueryRow(ctx, selectSQL, dealID, secret).
		Scan(&t.Secret, &t.DealID, &t.IssuedAt, &t.ExpiresAt, &t.Used, &publicID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccessToken{}, "", ErrNotFound
		}
		return AccessToken{}, "", fmt.Errorf("token: get: %w", err)
	}
	return t, publicID, nil
}

// Latest returns the most recently issued token for the deal. Re-issuance
// keeps the newest token as the one shared by the creator.
func (r *PGRepository) Latest(ctx context.Context, dealID string) (AccessToken, error) {
	const selectSQL = `
		SELECT secret, deal_id, issued_at, expires_at, used
		FROM access_tokens
		WHERE deal_id = $1
		ORDER BY issued_at DESC
		LIMIT 1
	`

	var t AccessToken
	err := r.pool.QueryRow(ctx, selectSQL, dealID).
		Scan(&t.Secret, &t.DealID, &t.IssuedAt, &t.ExpiresAt, &t.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccessToken{}, ErrNotFound
		}
		return AccessToken{}, fmt.Errorf("token: latest: %w", err)
	}
	return t, nil
}

// MarkUsed flips the used flag with a conditional update. Marking an
// already-used token again is a no-op so retried sealing calls do not
// fail here.
func (r *PGRepository) MarkUsed(ctx context.Context, tx pgx.Tx, dealID, secret string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE access_tokens SET used = true WHERE deal_id = $1 AND secret = $2 AND used = false`,
		dealID, secret)
	if err != nil {
		return fmt.Errorf("token: mark used: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var used bool
	err = tx.QueryRow(ctx,
		`SELECT used FROM access_tokens WHERE deal_id = $1 AND secret = $2`,
		dealID, secret).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("token: mark used check: %w", err)
	}
	return nil
}
