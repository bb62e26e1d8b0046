package trust

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGProvider reads verification records written by the external provider
// into the verifications table.
type PGProvider struct {
	pool *pgxpool.Pool
}

func NewPGProvider(pool *pgxpool.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

// HighestTier returns the strongest tier on record for the deal and
// recipient. A record matches when it names the recipient's user id or,
// failing that, their email. Anonymous recipients (no email, no user id)
// never match and report TierBasic.
func (p *PGProvider) HighestTier(ctx context.Context, dealID string, rcpt RecipientContext) (Tier, error) {
	if rcpt.UserID == "" && rcpt.Email == "" {
		return TierBasic, nil
	}

	const query = `
		SELECT tier
		FROM verifications
		WHERE deal_id = $1
		  AND ((recipient_user_id IS NOT NULL AND recipient_user_id::text = $2)
		    OR (recipient_email IS NOT NULL AND recipient_email = $3))
	`

	rows, err := p.pool.Query(ctx, query, dealID, rcpt.UserID, rcpt.Email)
	if err != nil {
		return TierBasic, fmt.Errorf("trust: query verifications: %w", err)
	}
	defer rows.Close()

	highest := TierBasic
	for rows.Next() {
		var tier Tier
		if err := rows.Scan(&tier); err != nil {
			return TierBasic, fmt.Errorf("trust: scan verification: %w", err)
		}
		if tier.Valid() && tier.AtLeast(highest) {
			highest = tier
		}
	}
	if err := rows.Err(); err != nil {
		return TierBasic, fmt.Errorf("trust: iterate verifications: %w", err)
	}
	return highest, nil
}
