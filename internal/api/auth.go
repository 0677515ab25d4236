package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// tokenAuth checks bearer tokens against a bcrypt hash. Verified tokens are
// remembered by digest so bcrypt runs once per distinct token.
type tokenAuth struct {
	hash []byte

	mu       sync.Mutex
	verified [][sha256.Size]byte
}

func newTokenAuth(hash string) *tokenAuth {
	if hash == "" {
		return nil
	}
	return &tokenAuth{hash: []byte(hash)}
}

func (a *tokenAuth) check(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))

	a.mu.Lock()
	for _, v := range a.verified {
		if subtle.ConstantTimeCompare(v[:], sum[:]) == 1 {
			a.mu.Unlock()
			return true
		}
	}
	a.mu.Unlock()

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.mu.Lock()
	if len(a.verified) < 16 {
		a.verified = append(a.verified, sum)
	}
	a.mu.Unlock()
	return true
}

// HashToken returns the bcrypt hash to put in the api block's token_hash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	// Browsers cannot set headers on websocket upgrades.
	if r.URL.Path == "/api/events" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.check(bearerToken(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
