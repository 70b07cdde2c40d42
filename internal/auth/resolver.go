package auth

import (
	"github.com/nerrad567/devmgr/internal/infrastructure/config"
)

// TenantResolver maps a bearer token to the tenant it is scoped to.
//
// With verification enabled the token must be a valid HS256 token signed
// with the configured secret. Without it the claims are trusted as-is,
// which suits deployments where a gateway has already authenticated the
// caller.
type TenantResolver struct {
	secret string
	verify bool
}

// NewTenantResolver creates a resolver from the jwt config section.
func NewTenantResolver(cfg config.JWTConfig) *TenantResolver {
	return &TenantResolver{secret: cfg.Secret, verify: cfg.Verify}
}

// Resolve returns the tenant named by the token's service claim.
//
// Errors: ErrTokenMissing for an empty token, ErrTokenInvalid for a token
// that cannot be parsed (or fails verification), ErrNoTenant when the
// service claim is absent.
func (r *TenantResolver) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}

	var (
		claims *ServiceClaims
		err    error
	)
	if r.verify {
		claims, err = ParseToken(token, r.secret)
	} else {
		claims, err = parseUnverified(token)
	}
	if err != nil {
		return "", err
	}

	if claims.Service == "" {
		return "", ErrNoTenant
	}
	return claims.Service, nil
}
