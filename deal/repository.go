package deal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dealColumns = `id, public_id, title, description, template_ref, terms,
	creator_id, recipient_name, recipient_email, recipient_id::text,
	required_tier, status::text, created_at, confirmed_at, signature, seal_fingerprint`

// Repository defines the data access the lifecycle service requires.
// Methods suffixed Tx participate in the caller's transaction so a
// transition and its audit record commit together.
type Repository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, d Deal) (Deal, error)
	GetByID(ctx context.Context, id string) (Deal, error)
	GetByPublicID(ctx context.Context, publicID string) (Deal, error)
	ClaimSealing(ctx context.Context, dealID string) error
	ConfirmTx(ctx context.Context, tx pgx.Tx, u ConfirmUpdate) (Deal, error)
	RevertSealing(ctx context.Context, dealID string) error
	VoidTx(ctx context.Context, tx pgx.Tx, dealID, callerID string) (Deal, error)
	ListByCreator(ctx context.Context, creatorID string, page, pageSize int) ([]Deal, int, error)
}

// PGRepository implements Repository over the deals table.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) InsertTx(ctx context.Context, tx pgx.Tx, d Deal) (Deal, error) {
	terms, err := json.Marshal(d.Terms)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: marshal terms: %w", err)
	}

	insertSQL := `
		INSERT INTO deals (public_id, title, description, template_ref, terms,
			creator_id, recipient_name, recipient_email, required_tier, status)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, 'pending')
		RETURNING ` + dealColumns

	rec, err := scanDeal(tx.QueryRow(ctx, insertSQL,
		d.PublicID, d.Title, d.Description, d.TemplateRef, terms,
		d.CreatorID, d.RecipientName, d.RecipientEmail, d.RequiredTier))
	if err != nil {
		return Deal{}, fmt.Errorf("deal: insert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Deal, error) {
	selectSQL := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`
	rec, err := scanDeal(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get by id: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetByPublicID(ctx context.Context, publicID string) (Deal, error) {
	selectSQL := `SELECT ` + dealColumns + ` FROM deals WHERE public_id = $1`
	rec, err := scanDeal(r.pool.QueryRow(ctx, selectSQL, publicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get by public id: %w", err)
	}
	return rec, nil
}

// ClaimSealing performs the compare-and-swap that decides the sealing
// race: only the caller that flips pending to sealing proceeds. Losers
// learn why from the status they observe instead.
func (r *PGRepository) ClaimSealing(ctx context.Context, dealID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deals SET status = 'sealing' WHERE id = $1 AND status = 'pending'`, dealID)
	if err != nil {
		return fmt.Errorf("deal: claim sealing: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status Status
	err = r.pool.QueryRow(ctx, `SELECT status::text FROM deals WHERE id = $1`, dealID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("deal: claim sealing check: %w", err)
	}
	switch status {
	case StatusSealing, StatusConfirmed:
		return ErrAlreadySealed
	default:
		return ErrInvalidState
	}
}

// ConfirmTx completes the sealing transition. The status guard means a
// claim that somehow lapsed cannot overwrite a concurrent winner, and
// COALESCE keeps an already-matched recipient identity immutable.
func (r *PGRepository) ConfirmTx(ctx context.Context, tx pgx.Tx, u ConfirmUpdate) (Deal, error) {
	updateSQL := `
		UPDATE deals
		SET status = 'confirmed',
		    confirmed_at = now(),
		    signature = $2,
		    seal_fingerprint = $3,
		    recipient_id = COALESCE(recipient_id, $4::uuid),
		    recipient_email = COALESCE(recipient_email, $5)
		WHERE id = $1 AND status = 'sealing'
		RETURNING ` + dealColumns

	rec, err := scanDeal(tx.QueryRow(ctx, updateSQL,
		u.DealID, u.Signature, u.SealFingerprint, u.RecipientID, u.RecipientEmail))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrInvalidState
		}
		return Deal{}, fmt.Errorf("deal: confirm: %w", err)
	}
	return rec, nil
}

// RevertSealing releases a claim after a failed seal write so a retry
// sees a clean pending deal.
func (r *PGRepository) RevertSealing(ctx context.Context, dealID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deals SET status = 'pending' WHERE id = $1 AND status = 'sealing'`, dealID)
	if err != nil {
		return fmt.Errorf("deal: revert sealing: %w", err)
	}
	return nil
}

// VoidTx transitions pending to voided for the creator. On a failed
// conditional update it distinguishes not-found, wrong caller, and wrong
// state so the service can return the precise error.
func (r *PGRepository) VoidTx(ctx context.Context, tx pgx.Tx, dealID, callerID string) (Deal, error) {
	updateSQL := `
		UPDATE deals
		SET status = 'voided'
		WHERE id = $1 AND creator_id = $2 AND status = 'pending'
		RETURNING ` + dealColumns

	rec, err := scanDeal(tx.QueryRow(ctx, updateSQL, dealID, callerID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, fmt.Errorf("deal: void: %w", err)
	}

	var (
		creatorID string
		status    Status
	)
	err = tx.QueryRow(ctx, `SELECT creator_id::text, status::text FROM deals WHERE id = $1`, dealID).
		Scan(&creatorID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: void check: %w", err)
	}
	if creatorID != callerID {
		return Deal{}, ErrForbidden
	}
	return Deal{}, ErrInvalidState
}

func (r *PGRepository) ListByCreator(ctx context.Context, creatorID string, page, pageSize int) ([]Deal, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := `SELECT ` + dealColumns + `
		FROM deals
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, creatorID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("deal: list: %w", err)
	}
	defer rows.Close()

	records := []Deal{}
	for rows.Next() {
		rec, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("deal: scan list row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("deal: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deals WHERE creator_id = $1`, creatorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("deal: count: %w", err)
	}
	return records, total, nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var (
		d     Deal
		terms []byte
	)
	err := row.Scan(
		&d.ID,
		&d.PublicID,
		&d.Title,
		&d.Description,
		&d.TemplateRef,
		&terms,
		&d.CreatorID,
		&d.RecipientName,
		&d.RecipientEmail,
		&d.RecipientID,
		&d.RequiredTier,
		&d.Status,
		&d.CreatedAt,
		&d.ConfirmedAt,
		&d.Signature,
		&d.SealFingerprint,
	)
	if err != nil {
		return Deal{}, err
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &d.Terms); err != nil {
			return Deal{}, fmt.Errorf("decode terms: %w", err)
		}
	}
	return d, nil
}
