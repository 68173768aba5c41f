package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/cli-analytics/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TenantStore is the slice of the store the authenticator needs.
type TenantStore interface {
	TenantsByKeyPrefix(ctx context.Context, prefix string) ([]*store.Tenant, error)
}

// StoreAuthenticator validates API keys against the tenants table.
// Invalid keys are never cached; a stale entry whose refresh finds the key
// gone is evicted.
type StoreAuthenticator struct {
	store  TenantStore
	cache  *AuthCache
	logger *zap.Logger
}

// StoreAuthConfig configures the StoreAuthenticator.
type StoreAuthConfig struct {
	Store    TenantStore
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewStoreAuthenticator creates an authenticator backed by the tenant store.
func NewStoreAuthenticator(cfg StoreAuthConfig) *StoreAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreAuthenticator{
		store:  cfg.Store,
		cache:  NewAuthCache(ttl),
		logger: logger,
	}
}

// Cache exposes the key cache so admin operations can purge a tenant.
func (a *StoreAuthenticator) Cache() *AuthCache { return a.cache }

// Authenticate resolves apiKey to a tenant.
//
// Flow:
//  1. Cache lookup: a fresh hit returns at once, a stale hit returns the old
//     tenant and refreshes in the background.
//  2. Miss: prefix lookup plus bcrypt compare against every candidate.
//  3. Store errors surface as ErrAuthUnavailable, never as a granted request.
func (a *StoreAuthenticator) Authenticate(ctx context.Context, apiKey string) (*TenantContext, error) {
	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Tenant, nil
	}

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.lookupError(err)
	}
	a.cache.Set(apiKey, tenant)
	return tenant, nil
}

func (a *StoreAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		// Evicting also clears the refreshing flag; the next request does a
		// synchronous lookup.
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, tenant)
}

func (a *StoreAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*TenantContext, error) {
	if len(apiKey) < store.APIKeyPrefixLen {
		return nil, ErrInvalidAPIKey
	}
	candidates, err := a.store.TenantsByKeyPrefix(ctx, apiKey[:store.APIKeyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	// Prefixes are short enough to collide; check each holder.
	for _, t := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(t.APIKeyHash), []byte(apiKey)) == nil {
			return &TenantContext{TenantID: t.ID, Name: t.Name}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func (a *StoreAuthenticator) lookupError(err error) error {
	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth store unreachable", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
}
