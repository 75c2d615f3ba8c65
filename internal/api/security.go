package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/vitalblend/commerce-api/internal/domain/auth"
)

// identityKey is the context key for the authenticated API key identity.
type identityKey struct{}

// identityFrom extracts the authenticated identity from the context, or nil.
func identityFrom(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(identityKey{}).(*auth.APIKeyInfo)
	return info
}

// Security authenticates requests via HMAC-SHA256 hashed API keys taken from
// the api_key header (or Authorization: Bearer).
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security middleware source with the given API key
// repository and HMAC pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{apikeys: apikeys, pepper: pepper}
}

// Authenticate wraps a handler, rejecting requests without a valid API key.
// The validated identity is stored in the request context.
func (s *Security) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := s.verify(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps a handler, additionally requiring the admin scope.
func (s *Security) RequireAdmin(next http.Handler) http.Handler {
	return s.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := identityFrom(r.Context())
		if info == nil || !info.HasScope(auth.ScopeAdmin) {
			respondError(w, http.StatusForbidden, "admin scope required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// verify computes the HMAC-SHA256 of the presented key, looks it up, and
// performs a constant-time comparison to prevent timing side-channels.
func (s *Security) verify(r *http.Request) (*auth.APIKeyInfo, bool) {
	key := r.Header.Get("api_key")
	if key == "" {
		const prefix = "Bearer "
		if v := r.Header.Get("Authorization"); len(v) > len(prefix) && v[:len(prefix)] == prefix {
			key = v[len(prefix):]
		}
	}
	if key == "" {
		return nil, false
	}

	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return nil, false
	}

	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, false
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return nil, false
	}
	return info, true
}
