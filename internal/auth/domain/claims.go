package domain

import "github.com/golang-jwt/jwt/v5"

// ScopeAdmin tokens may act on every account.
const ScopeAdmin = "admin"

// ServiceClaims identify an internal caller of the API. A token bound to an
// account may only touch that account's routes.
type ServiceClaims struct {
	AccountID string `json:"account_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the caller may act on accountID.
func (c *ServiceClaims) Allows(accountID string) bool {
	if c.Scope == ScopeAdmin {
		return true
	}
	return c.AccountID != "" && c.AccountID == accountID
}
