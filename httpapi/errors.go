package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"dealflow/audit"
	"dealflow/auth"
	"dealflow/deal"
	"dealflow/template"
	"dealflow/token"
	"dealflow/trust"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain errors onto the HTTP status taxonomy. Conflicts
// carry a machine-readable code so clients can distinguish a consumed
// token from a sealed deal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *deal.ValidationError
	var nse *trust.NotSatisfiedError

	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   ve.Error(),
			Code:    "validation_failed",
			Missing: ve.Missing,
		})
	case errors.Is(err, auth.ErrWeakPassword):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, deal.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, deal.ErrForbidden), errors.Is(err, audit.ErrForbidden):
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, deal.ErrNotFound), errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, token.ErrNotFound), errors.Is(err, template.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, auth.ErrDuplicateEmail):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "email already registered", Code: "duplicate_email"})
	case errors.Is(err, deal.ErrAlreadySealed):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "deal is already sealed", Code: "already_sealed"})
	case errors.Is(err, deal.ErrSelfSigning):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "creators cannot sign their own deals", Code: "self_signing"})
	case errors.Is(err, deal.ErrInvalidState):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "deal is not in a state that allows this operation", Code: "invalid_state"})
	case errors.Is(err, deal.ErrTokenUsed):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "access token has already been used", Code: "token_used"})
	case errors.Is(err, deal.ErrTokenExpired):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "access token has expired", Code: "token_expired"})
	case errors.Is(err, deal.ErrTokenInvalid):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "access token is not valid for this deal", Code: "token_invalid"})
	case errors.As(err, &nse):
		s.writeJSON(w, http.StatusPreconditionFailed, errorResponse{
			Error: nse.Error(),
			Code:  "trust_not_satisfied",
		})
	case errors.Is(err, deal.ErrTransient):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable, retry shortly", Code: "transient"})
	default:
		log.Printf("httpapi: internal error: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
