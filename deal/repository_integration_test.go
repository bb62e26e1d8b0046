package deal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"dealflow/audit"
	"dealflow/token"
)

// TestSealRace_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies that concurrent sealing attempts against one deal produce
// exactly one confirmation.
func TestSealRace_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "deals") || !tableExists(ctx, t, pool, "access_tokens") || !tableExists(ctx, t, pool, "audit_log") {
		t.Skip("database schema missing; apply migrations/ first")
	}

	var creatorID string
	err = pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
		fmt.Sprintf("maria+%d@example.com", time.Now().UnixNano()), "Maria Creator").Scan(&creatorID)
	if err != nil {
		t.Fatalf("seed creator: %v", err)
	}

	tokens := token.NewService(token.NewRepository(pool), token.DefaultTTL)
	ledger := audit.NewLedger(pool)
	svc := NewService(Deps{
		Pool:   pool,
		Repo:   NewRepository(pool),
		Tokens: tokens,
		Ledger: ledger,
	})

	d, tok, err := svc.Create(ctx, creatorID, CreateParams{
		Title:         "Race fixture",
		RecipientName: "Dana",
		Terms:         []Term{{Label: "Fee", Value: "100", Type: "currency"}},
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}

	// Confirmed deals and audit rows are append-only; only the token rows
	// can be removed afterwards.
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM access_tokens WHERE deal_id = $1`, d.ID)
	})

	const attempts = 16
	var wins, losses atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < attempts; i++ {
		i := i
		g.Go(func() error {
			_, err := svc.BeginSeal(gctx, SealParams{
				DealID:    d.ID,
				PublicID:  d.PublicID,
				Secret:    tok.Secret,
				Signature: fmt.Sprintf("Dana R. (attempt %d)", i),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadySealed), errors.Is(err, ErrTokenUsed):
				losses.Add(1)
			default:
				return fmt.Errorf("attempt %d: unexpected error: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d (losses %d)", wins.Load(), losses.Load())
	}
	if wins.Load()+losses.Load() != attempts {
		t.Fatalf("attempts unaccounted for: %d wins + %d losses", wins.Load(), losses.Load())
	}

	final, err := svc.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("reload deal: %v", err)
	}
	if final.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", final.Status)
	}
	if final.Signature == nil || final.SealFingerprint == nil || final.ConfirmedAt == nil {
		t.Fatalf("confirmed deal missing seal fields: %+v", final)
	}

	status, err := tokens.Validate(ctx, d.ID, tok.Secret, d.PublicID)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if status != token.StatusUsed {
		t.Fatalf("expected token to read used, got %s", status)
	}

	var signedEvents int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE deal_id = $1 AND type = 'deal_signed'`, d.ID).Scan(&signedEvents)
	if err != nil {
		t.Fatalf("count deal_signed: %v", err)
	}
	if signedEvents != 1 {
		t.Fatalf("expected exactly one deal_signed entry, got %d", signedEvents)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
