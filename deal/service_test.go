package deal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealflow/audit"
	"dealflow/identity"
	"dealflow/token"
	"dealflow/trust"
)

func newTestService(pool *fakePool, repo *fakeRepo, tokens *fakeTokens, ledger *fakeLedger, gate TrustGate, resolver identity.Resolver) *Service {
	return NewService(Deps{
		Pool:     pool,
		Repo:     repo,
		Tokens:   tokens,
		Ledger:   ledger,
		Gate:     gate,
		Resolver: resolver,
	})
}

func pendingDeal() Deal {
	return Deal{
		ID:            "deal-1",
		PublicID:      "pub-1",
		Title:         "Consulting engagement",
		CreatorID:     "creator-1",
		RecipientName: "Dana",
		RequiredTier:  trust.TierBasic,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
}

func TestCreate_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	tokens := &fakeTokens{}
	ledger := &fakeLedger{}
	svc := newTestService(pool, repo, tokens, ledger, nil, nil)

	d, tok, err := svc.Create(context.Background(), "creator-1", CreateParams{
		Title:         "Consulting engagement",
		RecipientName: "Dana",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.PublicID == "" {
		t.Errorf("expected public id to be assigned")
	}
	if tok.Secret != "secret-1" {
		t.Errorf("expected issued token to be returned, got %q", tok.Secret)
	}
	if len(pool.txs) != 1 || !pool.txs[0].committed {
		t.Fatalf("expected a single committed transaction")
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Type != audit.EventDealCreated {
		t.Errorf("expected a deal_created entry, got %+v", ledger.entries)
	}
}

func TestCreate_RequiresCaller(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeTokens{}, &fakeLedger{}, nil, nil)

	_, _, err := svc.Create(context.Background(), "", CreateParams{Title: "x", RecipientName: "y"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreate_ValidatesInput(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{}, &fakeTokens{}, &fakeLedger{}, nil, nil)

	_, _, err := svc.Create(context.Background(), "creator-1", CreateParams{RecipientName: "Dana"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for missing title, got %v", err)
	}

	_, _, err = svc.Create(context.Background(), "creator-1", CreateParams{
		Title:         "x",
		RecipientName: "Dana",
		RequiredTier:  trust.Tier("platinum"),
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown tier, got %v", err)
	}
}

func TestBeginSeal_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{deal: pendingDeal()}
	tokens := &fakeTokens{status: token.StatusValid}
	ledger := &fakeLedger{}
	svc := newTestService(pool, repo, tokens, ledger, nil, nil)

	rec, err := svc.BeginSeal(context.Background(), SealParams{
		DealID:    "deal-1",
		Secret:    "secret-1",
		Signature: "Dana R.",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.claimed {
		t.Errorf("expected sealing claim")
	}
	if repo.confirm == nil {
		t.Fatalf("expected confirm write")
	}
	if repo.confirm.SealFingerprint == "" {
		t.Errorf("expected fingerprint to be computed")
	}
	if !tokens.markedUsed {
		t.Errorf("expected token to be consumed")
	}
	if repo.reverted {
		t.Errorf("claim must not be reverted on success")
	}
	if rec.Status != StatusConfirmed {
		t.Errorf("expected confirmed deal, got %s", rec.Status)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Type != audit.EventDealSigned {
		t.Errorf("expected a deal_signed entry, got %+v", ledger.entries)
	}
}

func TestBeginSeal_RequiresSignature(t *testing.T) {
	svc := newTestService(&fakePool{}, &fakeRepo{deal: pendingDeal()}, &fakeTokens{}, &fakeLedger{}, nil, nil)

	_, err := svc.BeginSeal(context.Background(), SealParams{DealID: "deal-1", Secret: "s"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBeginSeal_TokenVerdicts(t *testing.T) {
	cases := []struct {
		name   string
		status token.Status
		want   error
	}{
		{"used token", token.StatusUsed, ErrTokenUsed},
		{"expired token", token.StatusExpired, ErrTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{deal: pendingDeal()}
			svc := newTestService(&fakePool{}, repo, &fakeTokens{status: tc.status}, &fakeLedger{}, nil, nil)

			_, err := svc.BeginSeal(context.Background(), SealParams{
				DealID: "deal-1", Secret: "s", Signature: "Dana",
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if repo.claimed {
				t.Errorf("token rejection must happen before the claim")
			}
		})
	}
}

func TestBeginSeal_PublicIDMismatch(t *testing.T) {
	repo := &fakeRepo{deal: pendingDeal()}
	svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

	_, err := svc.BeginSeal(context.Background(), SealParams{
		DealID: "deal-1", PublicID: "pub-other", Secret: "s", Signature: "Dana",
	})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestBeginSeal_TerminalStates(t *testing.T) {
	confirmed := pendingDeal()
	confirmed.Status = StatusConfirmed
	voided := pendingDeal()
	voided.Status = StatusVoided

	cases := []struct {
		name string
		deal Deal
		want error
	}{
		{"confirmed deal", confirmed, ErrAlreadySealed},
		{"sealing deal", func() Deal { d := pendingDeal(); d.Status = StatusSealing; return d }(), ErrAlreadySealed},
		{"voided deal", voided, ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(&fakePool{}, &fakeRepo{deal: tc.deal}, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

			_, err := svc.BeginSeal(context.Background(), SealParams{
				DealID: "deal-1", Secret: "s", Signature: "Dana",
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBeginSeal_SelfSigning(t *testing.T) {
	creatorID := "creator-1"

	t.Run("signed-in creator", func(t *testing.T) {
		repo := &fakeRepo{deal: pendingDeal()}
		svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

		_, err := svc.BeginSeal(context.Background(), SealParams{
			DealID: "deal-1", Secret: "s", Signature: "Me", RecipientUserID: &creatorID,
		})
		if !errors.Is(err, ErrSelfSigning) {
			t.Fatalf("expected ErrSelfSigning, got %v", err)
		}
		if repo.claimed {
			t.Errorf("self-signing must be rejected before the claim")
		}
	})

	t.Run("creator email via resolver", func(t *testing.T) {
		email := "creator@example.com"
		repo := &fakeRepo{deal: pendingDeal()}
		resolver := &fakeResolver{res: identity.Resolution{Kind: identity.KindCreator, UserID: creatorID}}
		svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, resolver)

		_, err := svc.BeginSeal(context.Background(), SealParams{
			DealID: "deal-1", Secret: "s", Signature: "Me", RecipientEmail: &email,
		})
		if !errors.Is(err, ErrSelfSigning) {
			t.Fatalf("expected ErrSelfSigning, got %v", err)
		}
	})
}

func TestBeginSeal_ResolverMatchesRecipient(t *testing.T) {
	email := "dana@example.com"
	repo := &fakeRepo{deal: pendingDeal()}
	resolver := &fakeResolver{res: identity.Resolution{Kind: identity.KindRegistered, UserID: "user-9"}}
	svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, resolver)

	_, err := svc.BeginSeal(context.Background(), SealParams{
		DealID: "deal-1", Secret: "s", Signature: "Dana", RecipientEmail: &email,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.confirm == nil || repo.confirm.RecipientID == nil || *repo.confirm.RecipientID != "user-9" {
		t.Errorf("expected resolved user id on the confirm write, got %+v", repo.confirm)
	}
}

func TestBeginSeal_TrustGate(t *testing.T) {
	t.Run("tier not satisfied", func(t *testing.T) {
		d := pendingDeal()
		d.RequiredTier = trust.TierStrong
		repo := &fakeRepo{deal: d}
		gate := &fakeGate{err: &trust.NotSatisfiedError{Required: trust.TierStrong, Actual: trust.TierBasic}}
		svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, gate, nil)

		_, err := svc.BeginSeal(context.Background(), SealParams{
			DealID: "deal-1", Secret: "s", Signature: "Dana",
		})
		var nse *trust.NotSatisfiedError
		if !errors.As(err, &nse) {
			t.Fatalf("expected NotSatisfiedError, got %v", err)
		}
		if nse.Required != trust.TierStrong || nse.Actual != trust.TierBasic {
			t.Errorf("expected required=strong actual=basic, got %+v", nse)
		}
		if repo.claimed {
			t.Errorf("trust rejection must happen before the claim")
		}
	})

	t.Run("provider timeout is transient", func(t *testing.T) {
		repo := &fakeRepo{deal: pendingDeal()}
		gate := &fakeGate{err: trust.ErrProviderUnavailable}
		svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, gate, nil)

		_, err := svc.BeginSeal(context.Background(), SealParams{
			DealID: "deal-1", Secret: "s", Signature: "Dana",
		})
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("expected ErrTransient, got %v", err)
		}
	})

	t.Run("no gate wired but tier required", func(t *testing.T) {
		d := pendingDeal()
		d.RequiredTier = trust.TierVerified
		svc := newTestService(&fakePool{}, &fakeRepo{deal: d}, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

		_, err := svc.BeginSeal(context.Background(), SealParams{
			DealID: "deal-1", Secret: "s", Signature: "Dana",
		})
		var nse *trust.NotSatisfiedError
		if !errors.As(err, &nse) {
			t.Fatalf("expected NotSatisfiedError, got %v", err)
		}
	})
}

func TestBeginSeal_LosesClaimRace(t *testing.T) {
	repo := &fakeRepo{deal: pendingDeal(), claimErr: ErrAlreadySealed}
	svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

	_, err := svc.BeginSeal(context.Background(), SealParams{
		DealID: "deal-1", Secret: "s", Signature: "Dana",
	})
	if !errors.Is(err, ErrAlreadySealed) {
		t.Fatalf("expected ErrAlreadySealed, got %v", err)
	}
	if repo.confirm != nil {
		t.Errorf("losers must not reach the confirm write")
	}
}

func TestBeginSeal_RevertsClaimOnConfirmFailure(t *testing.T) {
	boom := errors.New("write failed")
	repo := &fakeRepo{deal: pendingDeal(), confirmErr: boom}
	svc := newTestService(&fakePool{}, repo, &fakeTokens{status: token.StatusValid}, &fakeLedger{}, nil, nil)

	_, err := svc.BeginSeal(context.Background(), SealParams{
		DealID: "deal-1", Secret: "s", Signature: "Dana",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected confirm error, got %v", err)
	}
	if !repo.reverted {
		t.Errorf("expected sealing claim to be released after the failed write")
	}
}

func TestVoid_Success(t *testing.T) {
	pool := &fakePool{}
	voided := pendingDeal()
	voided.Status = StatusVoided
	repo := &fakeRepo{voidResult: voided}
	ledger := &fakeLedger{}
	svc := newTestService(pool, repo, &fakeTokens{}, ledger, nil, nil)

	rec, err := svc.Void(context.Background(), "deal-1", "creator-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Status != StatusVoided {
		t.Errorf("expected voided status, got %s", rec.Status)
	}
	if len(pool.txs) != 1 || !pool.txs[0].committed {
		t.Fatalf("expected committed transaction")
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Type != audit.EventDealVoided {
		t.Errorf("expected a deal_voided entry, got %+v", ledger.entries)
	}
}

func TestVoid_WrongStateOrCaller(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"confirmed deal", ErrInvalidState},
		{"foreign caller", ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{voidErr: tc.err}
			svc := newTestService(&fakePool{}, repo, &fakeTokens{}, &fakeLedger{}, nil, nil)

			_, err := svc.Void(context.Background(), "deal-1", "someone")
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestReissueToken(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		pool := &fakePool{}
		repo := &fakeRepo{deal: pendingDeal()}
		tokens := &fakeTokens{}
		ledger := &fakeLedger{}
		svc := newTestService(pool, repo, tokens, ledger, nil, nil)

		tok, err := svc.ReissueToken(context.Background(), "deal-1", "creator-1")
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if tok.Secret == "" {
			t.Errorf("expected a fresh token")
		}
		if len(ledger.entries) != 1 || ledger.entries[0].Type != audit.EventTokenReissued {
			t.Errorf("expected a token_reissued entry, got %+v", ledger.entries)
		}
	})

	t.Run("non-creator", func(t *testing.T) {
		svc := newTestService(&fakePool{}, &fakeRepo{deal: pendingDeal()}, &fakeTokens{}, &fakeLedger{}, nil, nil)
		_, err := svc.ReissueToken(context.Background(), "deal-1", "intruder")
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("non-pending", func(t *testing.T) {
		d := pendingDeal()
		d.Status = StatusConfirmed
		svc := newTestService(&fakePool{}, &fakeRepo{deal: d}, &fakeTokens{}, &fakeLedger{}, nil, nil)
		_, err := svc.ReissueToken(context.Background(), "deal-1", "creator-1")
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestGetStatusView(t *testing.T) {
	confirmed := pendingDeal()
	confirmed.Status = StatusConfirmed

	cases := []struct {
		name       string
		deal       Deal
		secret     string
		status     token.Status
		callerID   string
		authorized bool
	}{
		{"creator always authorized", pendingDeal(), "", "", "creator-1", true},
		{"valid token authorized", pendingDeal(), "s", token.StatusValid, "", true},
		{"used token on confirmed deal", confirmed, "s", token.StatusUsed, "", true},
		{"used token on pending deal", pendingDeal(), "s", token.StatusUsed, "", false},
		{"expired token", pendingDeal(), "s", token.StatusExpired, "", false},
		{"anonymous without token", pendingDeal(), "", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{deal: tc.deal}
			tokens := &fakeTokens{status: tc.status}
			svc := newTestService(&fakePool{}, repo, tokens, &fakeLedger{}, nil, nil)

			view, err := svc.GetStatusView(context.Background(), tc.deal.PublicID, tc.secret, tc.callerID)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if view.Authorized != tc.authorized {
				t.Errorf("expected authorized=%v, got %v", tc.authorized, view.Authorized)
			}
		})
	}
}

type fakeRepo struct {
	deal       Deal
	getErr     error
	claimed    bool
	claimErr   error
	confirm    *ConfirmUpdate
	confirmErr error
	reverted   bool
	voidResult Deal
	voidErr    error
}

func (f *fakeRepo) InsertTx(ctx context.Context, tx pgx.Tx, d Deal) (Deal, error) {
	d.ID = "deal-1"
	d.Status = StatusPending
	d.CreatedAt = time.Now()
	return d, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Deal, error) {
	if f.getErr != nil {
		return Deal{}, f.getErr
	}
	return f.deal, nil
}

func (f *fakeRepo) GetByPublicID(ctx context.Context, publicID string) (Deal, error) {
	if f.getErr != nil {
		return Deal{}, f.getErr
	}
	return f.deal, nil
}

func (f *fakeRepo) ClaimSealing(ctx context.Context, dealID string) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claimed = true
	return nil
}

func (f *fakeRepo) ConfirmTx(ctx context.Context, tx pgx.Tx, u ConfirmUpdate) (Deal, error) {
	if f.confirmErr != nil {
		return Deal{}, f.confirmErr
	}
	f.confirm = &u
	rec := f.deal
	rec.Status = StatusConfirmed
	now := time.Now()
	rec.ConfirmedAt = &now
	rec.Signature = &u.Signature
	rec.SealFingerprint = &u.SealFingerprint
	rec.RecipientID = u.RecipientID
	return rec, nil
}

func (f *fakeRepo) RevertSealing(ctx context.Context, dealID string) error {
	f.reverted = true
	return nil
}

func (f *fakeRepo) VoidTx(ctx context.Context, tx pgx.Tx, dealID, callerID string) (Deal, error) {
	if f.voidErr != nil {
		return Deal{}, f.voidErr
	}
	return f.voidResult, nil
}

func (f *fakeRepo) ListByCreator(ctx context.Context, creatorID string, page, pageSize int) ([]Deal, int, error) {
	return []Deal{f.deal}, 1, nil
}

type fakeTokens struct {
	status      token.Status
	validateErr error
	markedUsed  bool
	issued      int
}

func (f *fakeTokens) Issue(ctx context.Context, tx pgx.Tx, dealID string) (token.AccessToken, error) {
	f.issued++
	return token.AccessToken{Secret: "secret-1", DealID: dealID}, nil
}

func (f *fakeTokens) Validate(ctx context.Context, dealID, secret, publicID string) (token.Status, error) {
	if f.validateErr != nil {
		return "", f.validateErr
	}
	return f.status, nil
}

func (f *fakeTokens) MarkUsed(ctx context.Context, tx pgx.Tx, dealID, secret string) error {
	f.markedUsed = true
	return nil
}

type fakeLedger struct {
	entries   []audit.Entry
	appendErr error
}

func (f *fakeLedger) Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeGate struct {
	err error
}

func (f *fakeGate) IsSatisfied(ctx context.Context, dealID string, required trust.Tier, rcpt trust.RecipientContext) error {
	return f.err
}

type fakeResolver struct {
	res identity.Resolution
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, email, creatorID string) (identity.Resolution, error) {
	return f.res, f.err
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	panic("not implemented")
}
