package auth

import "context"

// Scopes granted to API keys.
const (
	ScopeCustomer = "customer"
	ScopeAdmin    = "admin"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
// UserID is the customer the key acts as; admin keys carry the admin scope.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	UserID  string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries the given scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
