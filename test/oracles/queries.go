package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// A confirmed deal carries its complete seal; nothing else
			// carries any of it.
			Name: "O1_seal_complete",
			SQL: `SELECT id, status FROM deals
                  WHERE (status = 'confirmed') <> (confirmed_at IS NOT NULL
                                                   AND signature IS NOT NULL
                                                   AND seal_fingerprint IS NOT NULL)`,
		},
		{
			// A token is only consumed by the transaction that confirms
			// its deal, so used always implies confirmed.
			Name: "O2_used_token_implies_confirmed",
			SQL: `SELECT t.deal_id, t.secret FROM access_tokens t
                  JOIN deals d ON d.id = t.deal_id
                  WHERE t.used AND d.status <> 'confirmed'`,
		},
		{
			// At most one sealing attempt per deal ever wins.
			Name: "O3_at_most_one_signing",
			SQL: `SELECT deal_id, COUNT(*) FROM audit_log
                  WHERE type = 'deal_signed'
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			// Every confirmed deal carries its deal_signed entry; the two
			// commit together.
			Name: "O4_confirmed_has_signing_event",
			SQL: `SELECT d.id FROM deals d
                  WHERE d.status = 'confirmed'
                    AND NOT EXISTS (SELECT 1 FROM audit_log a
                                    WHERE a.deal_id = d.id AND a.type = 'deal_signed')`,
		},
		{
			// A voided deal never acquired seal material.
			Name: "O5_voided_never_sealed",
			SQL: `SELECT id FROM deals
                  WHERE status = 'voided'
                    AND (signature IS NOT NULL OR seal_fingerprint IS NOT NULL
                         OR confirmed_at IS NOT NULL)`,
		},
		{
			// sealing is transient; a claim must resolve forwards or be
			// reverted, never linger.
			Name: "O6_no_stuck_sealing",
			SQL: `SELECT id FROM deals
                  WHERE status = 'sealing'
                    AND now() - created_at > interval '1 minute'`,
		},
		{
			// Issuance is transactional with creation, so every deal has
			// at least one token.
			Name: "O7_deal_has_token",
			SQL: `SELECT d.id FROM deals d
                  WHERE NOT EXISTS (SELECT 1 FROM access_tokens t WHERE t.deal_id = d.id)`,
		},
		{
			// Every deal_created entry exists for its deal and vice versa.
			Name: "O8_created_event_present",
			SQL: `SELECT d.id FROM deals d
                  WHERE NOT EXISTS (SELECT 1 FROM audit_log a
                                    WHERE a.deal_id = d.id AND a.type = 'deal_created')`,
		},
		{
			Name: "O9_ledger_immutability_guard",
			SQL: `SELECT 'missing_audit_immutability_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_audit_log_immutable')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
