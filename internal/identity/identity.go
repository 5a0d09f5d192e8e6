// Package identity resolves the user key that partitions persisted
// conversations. A signed-in client supplies its account email in a header;
// anonymous clients get a cookie-backed identity. The key is a correlation
// key only — no credential handling happens here.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	// UserHeaderName carries the signed-in account email.
	UserHeaderName = "X-Nazlab-User"
	// SessionHeaderName carries the per-tab session ID used by the
	// WebSocket connection registry.
	SessionHeaderName = "X-Nazlab-Session-ID"
	// AnonCookieName stores the fallback anonymous identity.
	AnonCookieName = "nazlab_anon_id"

	// DefaultSessionIDValue is used when the client supplies no session ID.
	DefaultSessionIDValue = "default"

	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userKeyKey contextKey = iota
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	userKeyPattern   = regexp.MustCompile(`^[^\s]{1,254}$`)
)

// UserKeyFromContext extracts the normalized user key from the request context.
func UserKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKeyKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// NormalizeUserKey lower-cases and trims a raw identity string. Conversations
// are partitioned by this value, so every caller must apply the same rule.
func NormalizeUserKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// userKeyFromRequest resolves the user key: header identity first, anonymous
// cookie otherwise.
func userKeyFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if raw := r.Header.Get(UserHeaderName); raw != "" {
		key := NormalizeUserKey(raw)
		if key != "" && userKeyPattern.MatchString(key) {
			return key, nil
		}
	}
	return getOrCreateAnonID(w, r, isDev)
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the normalized user key and per-request session ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userKey, err := userKeyFromRequest(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userKeyKey, userKey)
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
