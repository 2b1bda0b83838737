package common

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const (
	adminSubjectKey ctxKey = "auth/admin-subject"
	sessionIDKey    ctxKey = "session/id"
)

// SessionHeader carries the browsing session identifier.
const SessionHeader = "X-Session-ID"

// WithAdminSubject stores the authenticated administrator on ctx.
func WithAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminSubjectKey, subject)
}

// AdminSubject extracts the authenticated administrator if present.
func AdminSubject(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminSubjectKey).(string)
	return id, ok
}

// WithSessionID stores the browsing session identifier on ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the browsing session identifier if present.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// NewSessionID returns a fresh browsing session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// RequireSession rejects requests without a well-formed session header and
// stores the session id on the request context.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(SessionHeader))
		if raw == "" {
			JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "missing "+SessionHeader+" header", nil)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "SESSION_INVALID", "malformed session id", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id.String())))
	})
}

// CreateSession handles POST /api/v1/sessions, issuing a fresh session id for
// the client to send back in SessionHeader.
func CreateSession(w http.ResponseWriter, _ *http.Request) {
	id := NewSessionID()
	w.Header().Set(SessionHeader, id)
	JSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}
