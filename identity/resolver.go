package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind tags what an email resolved to relative to a specific deal.
type Kind string

const (
	// KindCreator means the email belongs to the deal's creator. Sealing
	// must reject this before any signature capture.
	KindCreator Kind = "creator"
	// KindRegistered means the email belongs to some other account.
	KindRegistered Kind = "registered"
	// KindUnknown means no account matches; the recipient stays anonymous.
	KindUnknown Kind = "unknown"
)

// Resolution is the tagged result of resolving a recipient email.
// UserID and FullName are set only for KindRegistered and KindCreator.
type Resolution struct {
	Kind     Kind
	UserID   string
	FullName string
}

// Resolver maps a recipient email to an account, relative to the deal's
// creator. Kept outside the lifecycle engine so identity lookup rules can
// change without touching transition logic.
type Resolver interface {
	Resolve(ctx context.Context, email, creatorID string) (Resolution, error)
}

// PGResolver resolves against the users table.
type PGResolver struct {
	pool *pgxpool.Pool
}

func NewResolver(pool *pgxpool.Pool) *PGResolver {
	return &PGResolver{pool: pool}
}

func (r *PGResolver) Resolve(ctx context.Context, email, creatorID string) (Resolution, error) {
	if email == "" {
		return Resolution{Kind: KindUnknown}, nil
	}

	const query = `SELECT id::text, full_name FROM users WHERE email = $1`

	var res Resolution
	err := r.pool.QueryRow(ctx, query, email).Scan(&res.UserID, &res.FullName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{Kind: KindUnknown}, nil
		}
		return Resolution{}, fmt.Errorf("identity: resolve %q: %w", email, err)
	}

	if res.UserID == creatorID {
		res.Kind = KindCreator
	} else {
		res.Kind = KindRegistered
	}
	return res, nil
}
