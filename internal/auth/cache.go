package auth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
)

// keyDigest identifies a cached API key without holding the key itself.
type keyDigest [32]byte

func digestKey(apiKey string) keyDigest {
	return blake3.Sum256([]byte(apiKey))
}

// AuthCache remembers which tenant an API key last resolved to.
//
// Entries are indexed by tenant as well as by key digest, so revoking a
// tenant's credentials touches only that tenant's entries. A lapsed entry keeps
// authenticating while a single caller re-verifies it against the store.
type AuthCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	entries  map[keyDigest]*cacheEntry
	byTenant map[string]map[keyDigest]struct{}
}

type cacheEntry struct {
	tenant     *TenantContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[keyDigest]*cacheEntry),
		byTenant: make(map[string]map[keyDigest]struct{}),
	}
}

// GetResult is what a lookup found. Hit is set for fresh and lapsed entries
// alike; NeedsRefresh is handed to exactly one caller per lapsed entry.
type GetResult struct {
	Tenant       *TenantContext
	Hit          bool
	NeedsRefresh bool
}

func (c *AuthCache) Get(apiKey string) GetResult {
	c.mu.RLock()
	entry, ok := c.entries[digestKey(apiKey)]
	c.mu.RUnlock()
	if !ok {
		return GetResult{}
	}
	if c.now().Before(entry.expiresAt) {
		return GetResult{Tenant: entry.tenant, Hit: true}
	}
	return GetResult{
		Tenant:       entry.tenant,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set records tenant for apiKey with a fresh TTL. A key that moved tenants is
// dropped from its old tenant's index.
func (c *AuthCache) Set(apiKey string, tenant *TenantContext) {
	d := digestKey(apiKey)
	entry := &cacheEntry{tenant: tenant, expiresAt: c.now().Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[d]; ok && prev.tenant.TenantID != tenant.TenantID {
		c.unindex(prev.tenant.TenantID, d)
	}
	c.entries[d] = entry
	keys, ok := c.byTenant[tenant.TenantID]
	if !ok {
		keys = make(map[keyDigest]struct{})
		c.byTenant[tenant.TenantID] = keys
	}
	keys[d] = struct{}{}
}

func (c *AuthCache) Delete(apiKey string) {
	d := digestKey(apiKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[d]; ok {
		delete(c.entries, d)
		c.unindex(entry.tenant.TenantID, d)
	}
}

// Purge forgets every key of tenantID. Key rotation and tenant deletion call
// it so a revoked key stops working before its TTL runs out.
func (c *AuthCache) Purge(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := range c.byTenant[tenantID] {
		delete(c.entries, d)
	}
	delete(c.byTenant, tenantID)
}

// Len reports the number of cached keys.
func (c *AuthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *AuthCache) unindex(tenantID string, d keyDigest) {
	keys := c.byTenant[tenantID]
	delete(keys, d)
	if len(keys) == 0 {
		delete(c.byTenant, tenantID)
	}
}
