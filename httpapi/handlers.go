package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dealflow/audit"
	"dealflow/auth"
	"dealflow/deal"
	"dealflow/template"
	"dealflow/token"
	"dealflow/trust"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: string(u.Role)}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), auth.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     auth.RoleCreator,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.authService.Login(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user":  toUserResponse(res.User),
	})
}

type termPayload struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type createDealRequest struct {
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	TemplateRef    string        `json:"templateRef"`
	Terms          []termPayload `json:"terms"`
	RecipientName  string        `json:"recipientName"`
	RecipientEmail *string       `json:"recipientEmail"`
	RequiredTier   string        `json:"requiredTier"`
}

type dealResponse struct {
	ID              string        `json:"id,omitempty"`
	PublicID        string        `json:"publicId"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	TemplateRef     string        `json:"templateRef,omitempty"`
	Terms           []termPayload `json:"terms,omitempty"`
	RecipientName   string        `json:"recipientName,omitempty"`
	RecipientEmail  *string       `json:"recipientEmail,omitempty"`
	RequiredTier    string        `json:"requiredTier,omitempty"`
	Status          string        `json:"status"`
	CreatedAt       *time.Time    `json:"createdAt,omitempty"`
	ConfirmedAt     *time.Time    `json:"confirmedAt,omitempty"`
	Signature       *string       `json:"signature,omitempty"`
	SealFingerprint *string       `json:"sealFingerprint,omitempty"`
	VerifyURL       string        `json:"verifyUrl,omitempty"`
}

func toTermPayloads(terms []deal.Term) []termPayload {
	out := make([]termPayload, len(terms))
	for i, t := range terms {
		out[i] = termPayload{Label: t.Label, Value: t.Value, Type: t.Type}
	}
	return out
}

// toDealResponse renders the full deal, internal id included. Creator
// routes only.
func toDealResponse(d deal.Deal) dealResponse {
	created := d.CreatedAt
	return dealResponse{
		ID:              d.ID,
		PublicID:        d.PublicID,
		Title:           d.Title,
		Description:     d.Description,
		TemplateRef:     d.TemplateRef,
		Terms:           toTermPayloads(d.Terms),
		RecipientName:   d.RecipientName,
		RecipientEmail:  d.RecipientEmail,
		RequiredTier:    string(d.RequiredTier),
		Status:          string(d.Status),
		CreatedAt:       &created,
		ConfirmedAt:     d.ConfirmedAt,
		Signature:       d.Signature,
		SealFingerprint: d.SealFingerprint,
	}
}

// toPublicDealResponse renders the recipient-facing view. The internal id
// never leaves through this path; unauthorized viewers of a confirmed
// deal get status and title only.
func toPublicDealResponse(d deal.Deal, authorized bool) dealResponse {
	if d.Status == deal.StatusConfirmed && !authorized {
		return dealResponse{
			PublicID:      d.PublicID,
			Title:         d.Title,
			RecipientName: d.RecipientName,
			Status:        string(d.Status),
			ConfirmedAt:   d.ConfirmedAt,
		}
	}
	resp := toDealResponse(d)
	resp.ID = ""
	if !authorized {
		resp.Signature = nil
		resp.SealFingerprint = nil
	}
	return resp
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req createDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	terms := make([]deal.Term, len(req.Terms))
	for i, t := range req.Terms {
		terms[i] = deal.Term{Label: t.Label, Value: t.Value, Type: t.Type}
	}

	d, tok, err := s.dealService.Create(r.Context(), userID, deal.CreateParams{
		Title:          req.Title,
		Description:    req.Description,
		TemplateRef:    req.TemplateRef,
		Terms:          terms,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		RequiredTier:   trust.Tier(req.RequiredTier),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"deal":     toDealResponse(d),
		"shareUrl": s.cfg.BaseURL + "/d/" + d.PublicID + "?t=" + tok.Secret,
		"token": map[string]any{
			"secret":    tok.Secret,
			"expiresAt": tok.ExpiresAt,
		},
	})
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "pageSize", 20)

	deals, total, err := s.dealService.ListByCreator(r.Context(), userID, page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]dealResponse, len(deals))
	for i, d := range deals {
		items[i] = toDealResponse(d)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deals":    items,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (s *Server) handleVoidDeal(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	dealID := chi.URLParam(r, "dealID")

	d, err := s.dealService.Void(r.Context(), dealID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.views.Invalidate(r.Context(), d.PublicID)
	s.writeJSON(w, http.StatusOK, map[string]any{"deal": toDealResponse(d)})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	dealID := chi.URLParam(r, "dealID")

	d, err := s.dealService.GetByID(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if d.CreatorID != userID {
		s.writeError(w, deal.ErrForbidden)
		return
	}

	tok, status, err := s.tokenService.LatestStatus(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"secret":    tok.Secret,
		"status":    string(status),
		"issuedAt":  tok.IssuedAt,
		"expiresAt": tok.ExpiresAt,
		"shareUrl":  s.cfg.BaseURL + "/d/" + d.PublicID + "?t=" + tok.Secret,
	})
}

func (s *Server) handleReissueToken(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	dealID := chi.URLParam(r, "dealID")

	tok, err := s.dealService.ReissueToken(r.Context(), dealID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	d, err := s.dealService.GetByID(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"secret":    tok.Secret,
		"issuedAt":  tok.IssuedAt,
		"expiresAt": tok.ExpiresAt,
		"shareUrl":  s.cfg.BaseURL + "/d/" + d.PublicID + "?t=" + tok.Secret,
	})
}

func (s *Server) handleCreatorAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	dealID := chi.URLParam(r, "dealID")

	d, err := s.dealService.GetByID(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.auditService.List(r.Context(), d.ID, audit.Authorization{
		IsCreator: d.CreatorID == userID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": toAuditResponses(entries)})
}

// handleGetDeal serves the recipient's deal page load. Reads go through
// the view cache; authorization comes from the t query parameter.
func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	secret := r.URL.Query().Get("t")

	d, ok := s.views.Get(r.Context(), publicID)
	if !ok {
		var err error
		d, err = s.dealService.GetByPublicID(r.Context(), publicID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.views.Set(r.Context(), d)
	}

	authorized := callerIDFromRequest(r, s.authService) == d.CreatorID && d.CreatorID != ""
	var tokenStatus token.Status
	if secret != "" {
		ts, err := s.tokenService.Validate(r.Context(), d.ID, secret, d.PublicID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		tokenStatus = ts
		if ts == token.StatusValid || (ts == token.StatusUsed && d.Status == deal.StatusConfirmed) {
			authorized = true
		}
	}

	resp := map[string]any{
		"deal":       toPublicDealResponse(d, authorized),
		"authorized": authorized,
	}
	if secret != "" {
		resp["tokenStatus"] = string(tokenStatus)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusView(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	secret := r.URL.Query().Get("t")
	callerID := callerIDFromRequest(r, s.authService)

	view, err := s.dealService.GetStatusView(r.Context(), publicID, secret, callerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      string(view.Status),
		"tokenStatus": string(view.TokenStatus),
		"authorized":  view.Authorized,
	})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.dealService.GetByPublicID(r.Context(), publicID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.tokenService.Validate(r.Context(), d.ID, req.Token, d.PublicID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  string(status),
		"isValid": status == token.StatusValid,
	})
}

type confirmDealRequest struct {
	Token           string  `json:"token"`
	Signature       string  `json:"signature"`
	SignatureMethod string  `json:"signatureMethod"`
	RecipientEmail  *string `json:"recipientEmail"`
}

func (s *Server) handleConfirmDeal(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")

	var req confirmDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.dealService.GetByPublicID(r.Context(), publicID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	params := deal.SealParams{
		DealID:          d.ID,
		PublicID:        publicID,
		Secret:          req.Token,
		Signature:       req.Signature,
		SignatureMethod: req.SignatureMethod,
		RecipientEmail:  req.RecipientEmail,
	}
	if callerID := callerIDFromRequest(r, s.authService); callerID != "" {
		params.RecipientUserID = &callerID
	}

	sealed, err := s.dealService.BeginSeal(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.views.Invalidate(r.Context(), publicID)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deal": toPublicDealResponse(sealed, true),
	})
}

type logEventRequest struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// handleLogEvent records recipient-side facts the server cannot observe
// on its own, like PDF downloads. Only the harmless view events are
// accepted; lifecycle events come from the engine itself.
func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")

	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eventType := audit.EventType(req.Type)
	if eventType != audit.EventDealViewed && eventType != audit.EventPDFDownloaded {
		s.writeErrorMessage(w, http.StatusBadRequest, "unsupported event type")
		return
	}

	d, err := s.dealService.GetByPublicID(r.Context(), publicID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entry := audit.Entry{
		DealID:    d.ID,
		Type:      eventType,
		ActorRole: audit.RoleRecipient,
		Metadata:  req.Metadata,
	}
	if callerID := callerIDFromRequest(r, s.authService); callerID != "" {
		entry.ActorID = &callerID
	}

	if err := s.auditService.AppendStandalone(r.Context(), entry); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"recorded": true})
}

func (s *Server) handleRecipientAuditLogs(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	secret := r.URL.Query().Get("t")

	d, err := s.dealService.GetByPublicID(r.Context(), publicID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	authz := audit.Authorization{}
	if secret != "" {
		ts, err := s.tokenService.Validate(r.Context(), d.ID, secret, d.PublicID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		authz.TokenStatus = ts
	}
	if callerID := callerIDFromRequest(r, s.authService); callerID != "" && callerID == d.CreatorID {
		authz.IsCreator = true
	}

	entries, err := s.auditService.List(r.Context(), d.ID, authz)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": toAuditResponses(entries)})
}

type templateResponse struct {
	Ref           string   `json:"ref"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	RequiredTerms []string `json:"requiredTerms"`
}

func toTemplateResponse(t template.Template) templateResponse {
	return templateResponse{
		Ref:           t.Ref,
		Name:          t.Name,
		Description:   t.Description,
		RequiredTerms: t.RequiredTerms,
	}
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"templates": []templateResponse{}})
		return
	}
	templates, err := s.templates.List(r.Context(), intQuery(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]templateResponse, len(templates))
	for i, t := range templates {
		items[i] = toTemplateResponse(t)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": items})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.writeError(w, template.ErrNotFound)
		return
	}
	t, err := s.templates.GetByRef(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

type auditResponse struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	ActorID   *string        `json:"actorId,omitempty"`
	ActorRole string         `json:"actorRole"`
	At        time.Time      `json:"at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func toAuditResponses(entries []audit.Entry) []auditResponse {
	out := make([]auditResponse, len(entries))
	for i, e := range entries {
		out[i] = auditResponse{
			ID:        e.ID,
			Type:      string(e.Type),
			ActorID:   e.ActorID,
			ActorRole: string(e.ActorRole),
			At:        e.At,
			Metadata:  e.Metadata,
		}
	}
	return out
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
