package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dealflow/audit"
	"dealflow/identity"
	"dealflow/seal"
	"dealflow/token"
	"dealflow/trust"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TokenAuthority is the slice of the token service the lifecycle needs.
type TokenAuthority interface {
	Issue(ctx context.Context, tx pgx.Tx, dealID string) (token.AccessToken, error)
	Validate(ctx context.Context, dealID, secret, publicID string) (token.Status, error)
	MarkUsed(ctx context.Context, tx pgx.Tx, dealID, secret string) error
}

// AuditAppender records transitions co-transactionally.
type AuditAppender interface {
	Append(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// TrustGate re-evaluates the recipient's verification tier at the moment
// of sealing.
type TrustGate interface {
	IsSatisfied(ctx context.Context, dealID string, required trust.Tier, rcpt trust.RecipientContext) error
}

// CertificateDeliverer is the post-confirmation hand-off to the PDF and
// email collaborators.
type CertificateDeliverer interface {
	VerificationURL(publicID string) string
	Deliver(ctx context.Context, cert seal.Certificate, email string) error
}

// TemplateCatalog reports which term labels a template requires. The
// catalog itself lives outside this module.
type TemplateCatalog interface {
	RequiredTerms(ctx context.Context, templateRef string) ([]string, error)
}

// Deps wires the lifecycle service. Gate, Resolver, Deliverer, and
// Catalog may be nil; absent collaborators degrade to basic-tier-only
// trust, no identity matching, no hand-off, and no template validation.
type Deps struct {
	Pool      TxBeginner
	Repo      Repository
	Tokens    TokenAuthority
	Ledger    AuditAppender
	Gate      TrustGate
	Resolver  identity.Resolver
	Deliverer CertificateDeliverer
	Catalog   TemplateCatalog
}

// Service owns the deal lifecycle. All status mutations go through its
// conditional-update discipline; everything else is a pure projection of
// deal, token, and audit rows.
type Service struct {
	pool      TxBeginner
	repo      Repository
	tokens    TokenAuthority
	ledger    AuditAppender
	gate      TrustGate
	resolver  identity.Resolver
	deliverer CertificateDeliverer
	catalog   TemplateCatalog
}

func NewService(d Deps) *Service {
	return &Service{
		pool:      d.Pool,
		repo:      d.Repo,
		tokens:    d.Tokens,
		ledger:    d.Ledger,
		gate:      d.Gate,
		resolver:  d.Resolver,
		deliverer: d.Deliverer,
		catalog:   d.Catalog,
	}
}

// Create constructs a pending deal, mints its access token, and records
// deal_created, all in one transaction. Returns the token alongside the
// deal so the caller can compose the share URL.
func (s *Service) Create(ctx context.Context, creatorID string, params CreateParams) (Deal, token.AccessToken, error) {
	if creatorID == "" {
		return Deal{}, token.AccessToken{}, ErrUnauthorized
	}
	if err := validateCreate(params); err != nil {
		return Deal{}, token.AccessToken{}, err
	}
	if s.catalog != nil && params.TemplateRef != "" {
		required, err := s.catalog.RequiredTerms(ctx, params.TemplateRef)
		if err != nil {
			return Deal{}, token.AccessToken{}, fmt.Errorf("deal: template catalog: %w", err)
		}
		if missing := missingLabels(required, params.Terms); len(missing) > 0 {
			return Deal{}, token.AccessToken{}, &ValidationError{
				Reason:  "required terms missing for template " + params.TemplateRef,
				Missing: missing,
			}
		}
	}

	tier := params.RequiredTier
	if tier == "" {
		tier = trust.TierBasic
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, token.AccessToken{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.InsertTx(ctx, tx, Deal{
		PublicID:       uuid.NewString(),
		Title:          params.Title,
		Description:    params.Description,
		TemplateRef:    params.TemplateRef,
		Terms:          params.Terms,
		CreatorID:      creatorID,
		RecipientName:  params.RecipientName,
		RecipientEmail: params.RecipientEmail,
		RequiredTier:   tier,
	})
	if err != nil {
		return Deal{}, token.AccessToken{}, err
	}

	tok, err := s.tokens.Issue(ctx, tx, rec.ID)
	if err != nil {
		return Deal{}, token.AccessToken{}, err
	}

	if err := s.ledger.Append(ctx, tx, audit.Entry{
		DealID:    rec.ID,
		Type:      audit.EventDealCreated,
		ActorID:   &creatorID,
		ActorRole: audit.RoleCreator,
		Metadata: map[string]any{
			"template_ref":  rec.TemplateRef,
			"required_tier": string(rec.RequiredTier),
		},
	}); err != nil {
		return Deal{}, token.AccessToken{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, token.AccessToken{}, fmt.Errorf("deal: commit create: %w", err)
	}
	return rec, tok, nil
}

// BeginSeal runs the full sealing protocol: token check, trust re-check,
// self-sign prevention, then the compare-and-swap claim and the
// confirmation transaction. Exactly one concurrent caller can win; the
// rest receive ErrAlreadySealed. On any precondition failure the deal
// stays pending.
func (s *Service) BeginSeal(ctx context.Context, p SealParams) (Deal, error) {
	if p.Signature == "" {
		return Deal{}, &ValidationError{Reason: "signature artifact required"}
	}
	if p.Secret == "" {
		return Deal{}, ErrTokenInvalid
	}

	d, err := s.repo.GetByID(ctx, p.DealID)
	if err != nil {
		return Deal{}, err
	}
	if p.PublicID != "" && p.PublicID != d.PublicID {
		return Deal{}, ErrTokenInvalid
	}
	switch d.Status {
	case StatusConfirmed, StatusSealing:
		return Deal{}, ErrAlreadySealed
	case StatusVoided:
		return Deal{}, ErrInvalidState
	}

	ts, err := s.tokens.Validate(ctx, d.ID, p.Secret, d.PublicID)
	if err != nil {
		return Deal{}, asTransient(err)
	}
	switch ts {
	case token.StatusUsed:
		return Deal{}, ErrTokenUsed
	case token.StatusExpired:
		return Deal{}, ErrTokenExpired
	}

	rcpt := trust.RecipientContext{}
	if p.RecipientEmail != nil {
		rcpt.Email = *p.RecipientEmail
	}
	if p.RecipientUserID != nil {
		rcpt.UserID = *p.RecipientUserID
	}
	// Re-checked here, not at page load: the recipient may hold several
	// tabs against the same deal.
	if s.gate != nil {
		if err := s.gate.IsSatisfied(ctx, d.ID, d.RequiredTier, rcpt); err != nil {
			var nse *trust.NotSatisfiedError
			if errors.As(err, &nse) {
				return Deal{}, err
			}
			return Deal{}, asTransient(err)
		}
	} else if d.RequiredTier != "" && d.RequiredTier != trust.TierBasic {
		return Deal{}, &trust.NotSatisfiedError{Required: d.RequiredTier, Actual: trust.TierBasic}
	}

	recipientID := p.RecipientUserID
	if recipientID != nil && *recipientID == d.CreatorID {
		return Deal{}, ErrSelfSigning
	}
	if recipientID == nil && p.RecipientEmail != nil && s.resolver != nil {
		res, err := s.resolver.Resolve(ctx, *p.RecipientEmail, d.CreatorID)
		if err != nil {
			return Deal{}, asTransient(err)
		}
		switch res.Kind {
		case identity.KindCreator:
			return Deal{}, ErrSelfSigning
		case identity.KindRegistered:
			id := res.UserID
			recipientID = &id
		}
	}

	if err := s.repo.ClaimSealing(ctx, d.ID); err != nil {
		return Deal{}, err
	}

	rec, err := s.finishSeal(ctx, d, p, recipientID)
	if err != nil {
		// Release the claim so a retry sees a clean pending deal. Uses a
		// detached context because the request may already be cancelled.
		_ = s.repo.RevertSealing(context.WithoutCancel(ctx), d.ID)
		return Deal{}, err
	}

	s.handOff(ctx, rec)
	return rec, nil
}

// finishSeal is the post-claim transaction: confirm the deal, consume the
// token, and append deal_signed, committing all three together.
func (s *Service) finishSeal(ctx context.Context, d Deal, p SealParams, recipientID *string) (Deal, error) {
	fingerprint := seal.Fingerprint(sealDocument(d, p.Signature))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin seal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.ConfirmTx(ctx, tx, ConfirmUpdate{
		DealID:          d.ID,
		Signature:       p.Signature,
		SealFingerprint: fingerprint,
		RecipientID:     recipientID,
		RecipientEmail:  p.RecipientEmail,
	})
	if err != nil {
		return Deal{}, err
	}

	if err := s.tokens.MarkUsed(ctx, tx, d.ID, p.Secret); err != nil {
		return Deal{}, err
	}

	if err := s.ledger.Append(ctx, tx, audit.Entry{
		DealID:    d.ID,
		Type:      audit.EventDealSigned,
		ActorID:   recipientID,
		ActorRole: audit.RoleRecipient,
		Metadata: map[string]any{
			"seal_fingerprint": fingerprint,
			"signature_method": p.SignatureMethod,
		},
	}); err != nil {
		return Deal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit seal: %w", err)
	}
	return rec, nil
}

// handOff delivers the certificate to the PDF and email collaborators.
// Best-effort: the sealed row is the source of truth, so delivery
// failures never unwind a confirmation.
func (s *Service) handOff(ctx context.Context, rec Deal) {
	if s.deliverer == nil || rec.Signature == nil || rec.SealFingerprint == nil || rec.ConfirmedAt == nil {
		return
	}
	email := ""
	if rec.RecipientEmail != nil {
		email = *rec.RecipientEmail
	}
	_ = s.deliverer.Deliver(ctx, seal.Certificate{
		Document:    sealDocument(rec, *rec.Signature),
		Fingerprint: *rec.SealFingerprint,
		VerifyURL:   s.deliverer.VerificationURL(rec.PublicID),
		ConfirmedAt: *rec.ConfirmedAt,
	}, email)
}

// Void transitions a pending deal to its terminal voided status. Only the
// creator may void, and never after sealing began.
func (s *Service) Void(ctx context.Context, dealID, callerID string) (Deal, error) {
	if callerID == "" {
		return Deal{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin void tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.VoidTx(ctx, tx, dealID, callerID)
	if err != nil {
		return Deal{}, err
	}

	if err := s.ledger.Append(ctx, tx, audit.Entry{
		DealID:    rec.ID,
		Type:      audit.EventDealVoided,
		ActorID:   &callerID,
		ActorRole: audit.RoleCreator,
	}); err != nil {
		return Deal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit void: %w", err)
	}
	return rec, nil
}

// ReissueToken mints a fresh share token for a pending deal ("resend
// link"). Prior tokens are not invalidated; the latest-issued one becomes
// the link the creator shares.
func (s *Service) ReissueToken(ctx context.Context, dealID, callerID string) (token.AccessToken, error) {
	if callerID == "" {
		return token.AccessToken{}, ErrUnauthorized
	}
	d, err := s.repo.GetByID(ctx, dealID)
	if err != nil {
		return token.AccessToken{}, err
	}
	if d.CreatorID != callerID {
		return token.AccessToken{}, ErrForbidden
	}
	if d.Status != StatusPending {
		return token.AccessToken{}, ErrInvalidState
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return token.AccessToken{}, fmt.Errorf("deal: begin reissue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tok, err := s.tokens.Issue(ctx, tx, d.ID)
	if err != nil {
		return token.AccessToken{}, err
	}
	if err := s.ledger.Append(ctx, tx, audit.Entry{
		DealID:    d.ID,
		Type:      audit.EventTokenReissued,
		ActorID:   &callerID,
		ActorRole: audit.RoleCreator,
	}); err != nil {
		return token.AccessToken{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return token.AccessToken{}, fmt.Errorf("deal: commit reissue: %w", err)
	}
	return tok, nil
}

// GetByID is the creator-side read path, keyed by internal id. Callers
// enforce ownership.
func (s *Service) GetByID(ctx context.Context, dealID string) (Deal, error) {
	return s.repo.GetByID(ctx, dealID)
}

// GetByPublicID is the anonymous read path. Redaction of confirmed-deal
// detail for unauthorized viewers happens at the presentation boundary.
func (s *Service) GetByPublicID(ctx context.Context, publicID string) (Deal, error) {
	return s.repo.GetByPublicID(ctx, publicID)
}

// GetStatusView projects what a viewer may see. Never mutates.
func (s *Service) GetStatusView(ctx context.Context, publicID, secret, callerID string) (StatusView, error) {
	d, err := s.repo.GetByPublicID(ctx, publicID)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{Status: d.Status}
	if secret != "" {
		ts, err := s.tokens.Validate(ctx, d.ID, secret, d.PublicID)
		if err != nil {
			return StatusView{}, asTransient(err)
		}
		view.TokenStatus = ts
	}

	// A valid token authorizes viewing/signing a pending deal; a used one
	// authorizes full detail of the confirmed deal it completed.
	view.Authorized = (callerID != "" && callerID == d.CreatorID) ||
		view.TokenStatus == token.StatusValid ||
		(view.TokenStatus == token.StatusUsed && d.Status == StatusConfirmed)
	return view, nil
}

// ListByCreator backs the creator dashboard.
func (s *Service) ListByCreator(ctx context.Context, creatorID string, page, pageSize int) ([]Deal, int, error) {
	if creatorID == "" {
		return nil, 0, ErrUnauthorized
	}
	return s.repo.ListByCreator(ctx, creatorID, page, pageSize)
}

func validateCreate(params CreateParams) error {
	if params.Title == "" {
		return &ValidationError{Reason: "title required"}
	}
	if params.RecipientName == "" {
		return &ValidationError{Reason: "recipient name required"}
	}
	if params.RequiredTier != "" && !params.RequiredTier.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown trust tier %q", params.RequiredTier)}
	}
	for _, term := range params.Terms {
		if term.Label == "" {
			return &ValidationError{Reason: "term label required"}
		}
	}
	return nil
}

func missingLabels(required []string, terms []Term) []string {
	present := make(map[string]bool, len(terms))
	for _, term := range terms {
		if term.Value != "" {
			present[term.Label] = true
		}
	}
	var missing []string
	for _, label := range required {
		if !present[label] {
			missing = append(missing, label)
		}
	}
	return missing
}

func sealDocument(d Deal, signature string) seal.Document {
	terms := make([]seal.Term, len(d.Terms))
	for i, t := range d.Terms {
		terms[i] = seal.Term{Label: t.Label, Value: t.Value, Type: t.Type}
	}
	return seal.Document{
		DealID:        d.ID,
		PublicID:      d.PublicID,
		Title:         d.Title,
		TemplateRef:   d.TemplateRef,
		CreatorID:     d.CreatorID,
		RecipientName: d.RecipientName,
		Terms:         terms,
		Signature:     signature,
	}
}

// asTransient folds dependency timeouts into the retryable error class.
func asTransient(err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, trust.ErrProviderUnavailable) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
