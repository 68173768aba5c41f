package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// KeyPrefix is the scheme marker every tenant API key starts with.
const KeyPrefix = "cla_"

// TenantContext identifies the tenant a request acts for.
type TenantContext struct {
	TenantID string
	Name     string
}

// Authenticator resolves an API key to its tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*TenantContext, error)
}

// BearerToken extracts the key from an Authorization header value.
func BearerToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	} else {
		return "", ErrInvalidAPIKey
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

type tenantKey struct{}

// WithTenant attaches an authenticated tenant to ctx.
func WithTenant(ctx context.Context, t *TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFrom returns the tenant attached by WithTenant, or nil.
func TenantFrom(ctx context.Context) *TenantContext {
	t, _ := ctx.Value(tenantKey{}).(*TenantContext)
	return t
}
