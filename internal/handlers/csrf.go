package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenLen   = 32
	csrfMaxAge     = 12 * time.Hour
)

// csrfStore remembers issued tokens until they expire
type csrfStore struct {
	mu     sync.Mutex
	maxAge time.Duration
	tokens map[string]time.Time // token -> expiry
}

func newCSRFStore(maxAge time.Duration) *csrfStore {
	return &csrfStore{maxAge: maxAge, tokens: make(map[string]time.Time)}
}

// issue creates and records a new random token
func (s *csrfStore) issue() (string, error) {
	buf := make([]byte, csrfTokenLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[token] = time.Now().Add(s.maxAge)
	s.mu.Unlock()

	return token, nil
}

// valid reports whether token was issued here and hasn't expired
func (s *csrfStore) valid(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	expiry, ok := s.tokens[token]
	s.mu.Unlock()

	return ok && time.Now().Before(expiry)
}

// sweep drops tokens that expired before now and returns how many went
func (s *csrfStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

// getOrCreateCSRFToken returns the token from the cookie when it is still
// valid, otherwise issues a new one and sets the cookie
func (h *Handler) getOrCreateCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && h.csrf.valid(cookie.Value) {
		return cookie.Value
	}

	token, err := h.csrf.issue()
	if err != nil {
		log.Printf("csrf: failed to issue token: %v", err)
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(csrfMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	return token
}

// requireCSRF validates CSRF and writes error response if invalid.
// Returns true if valid, false if invalid (response already written).
func (h *Handler) requireCSRF(w http.ResponseWriter, r *http.Request) bool {
	if h.validateCSRF(r) {
		return true
	}
	http.Error(w, "Invalid CSRF token", http.StatusForbidden)
	return false
}

// validateCSRF checks that a state-changing request echoes its cookie token
func (h *Handler) validateCSRF(r *http.Request) bool {
	// Skip CSRF validation if disabled (desktop mode)
	if h.disableCSRF {
		return true
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return false
	}

	token := requestCSRFToken(r)
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) != 1 {
		return false
	}
	return h.csrf.valid(token)
}

// requestCSRFToken reads the header scripts send, falling back to the field
// plain forms post
func requestCSRFToken(r *http.Request) string {
	if token := r.Header.Get(csrfHeaderName); token != "" {
		return token
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.FormValue(csrfFormField)
}

// StartCSRFCleanup sweeps expired tokens every interval until ctx is done
func (h *Handler) StartCSRFCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.csrf.sweep(now)
			}
		}
	}()
}
