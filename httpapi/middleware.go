package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxKeyUserID contextKey = "userID"
	ctxKeyRole   contextKey = "role"
)

// requireAuth gates the creator surface behind a bearer JWT.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeErrorMessage(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.writeErrorMessage(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, string(role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// callerIDFromRequest resolves an optional session on anonymous routes.
// A missing or invalid header just means an anonymous caller.
func callerIDFromRequest(r *http.Request, authSvc AuthService) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	userID, _, err := authSvc.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return ""
	}
	return userID
}
