package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrForbidden signals the caller may not read the deal's history.
var ErrForbidden = errors.New("audit: forbidden")

// execer is satisfied by both pgx.Tx and *pgxpool.Pool, so appends can go
// through the caller's transaction or straight to the pool.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ execer = (pgx.Tx)(nil)
	_ execer = (*pgxpool.Pool)(nil)
)

// Ledger is the append-only event store. Entries documenting a state
// transition must be appended through the same transaction as the
// transition so the two are never observed independently.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Append inserts the entry inside the caller's transaction.
func (l *Ledger) Append(ctx context.Context, tx pgx.Tx, e Entry) error {
	return appendEntry(ctx, tx, e)
}

// AppendStandalone inserts an access event (deal_viewed, pdf_downloaded)
// outside any transaction. These document no transition, so a failed
// insert is retried once and then surfaced; a lost access event is
// tolerable, a phantom one is not possible on this path.
func (l *Ledger) AppendStandalone(ctx context.Context, e Entry) error {
	err := appendEntry(ctx, l.pool, e)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return appendEntry(ctx, l.pool, e)
}

func appendEntry(ctx context.Context, db execer, e Entry) error {
	if e.DealID == "" {
		return fmt.Errorf("audit: missing deal id")
	}
	if e.Type == "" {
		return fmt.Errorf("audit: missing event type")
	}

	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}

	var actor any
	if e.ActorID != nil && *e.ActorID != "" {
		actor = *e.ActorID
	}

	const insertSQL = `
		INSERT INTO audit_log (deal_id, type, actor_id, actor_role, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`
	if _, err := db.Exec(ctx, insertSQL, e.DealID, e.Type, actor, e.ActorRole, body); err != nil {
		return fmt.Errorf("audit: append %s: %w", e.Type, err)
	}
	return nil
}

// List returns the deal's entries ordered oldest-first for timeline
// reconstruction.
func (l *Ledger) List(ctx context.Context, dealID string, authz Authorization) ([]Entry, error) {
	if !authz.Allowed() {
		return nil, ErrForbidden
	}

	const query = `
		SELECT id, deal_id, type, actor_id, actor_role, at, metadata
		FROM audit_log
		WHERE deal_id = $1
		ORDER BY at ASC, id ASC
	`

	rows, err := l.pool.Query(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, 8)
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.DealID, &e.Type, &e.ActorID, &e.ActorRole, &e.At, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate: %w", err)
	}
	return entries, nil
}
