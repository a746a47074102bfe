package domain

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Скоупы консоли.
const (
	ScopePoliciesRead  = "policies.read"
	ScopePoliciesWrite = "policies.write"
	ScopeAuditRead     = "audit.read"
)

// RoleAdmin получает все скоупы консоли независимо от колонки scopes.
const RoleAdmin = "admin"

// ConsoleScopes: полный набор, известный консоли.
var ConsoleScopes = []string{ScopeAuditRead, ScopePoliciesRead, ScopePoliciesWrite}

// OperatorClaims: содержимое токена оператора. ID оператора лежит в Subject.
type OperatorClaims struct {
	Username string   `json:"usr"`
	Role     string   `json:"role,omitempty"`
	Scopes   []string `json:"scp"`
	jwt.RegisteredClaims
}

func (c *OperatorClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// User: оператор консоли.
type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // никогда не отдаем наружу
	Role         string          `json:"role"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// GrantedScopes: отсортированный список включенных скоупов. Неизвестные консоли отбрасываются.
func (u User) GrantedScopes() []string {
	if u.Role == RoleAdmin {
		return slices.Clone(ConsoleScopes)
	}
	out := make([]string, 0, len(u.Scopes))
	for s, on := range u.Scopes {
		if on && slices.Contains(ConsoleScopes, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
