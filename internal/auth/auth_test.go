package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testAPIKey = "cla_0123456789abcdef0123456789abcdef"

func testHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

type mockStore struct {
	tenants   []*store.Tenant
	err       error
	callCount atomic.Int32
}

func (m *mockStore) TenantsByKeyPrefix(_ context.Context, prefix string) ([]*store.Tenant, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	var out []*store.Tenant
	for _, t := range m.tenants {
		if t.APIKeyPrefix == prefix {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTestAuth(s TenantStore, ttl time.Duration) *StoreAuthenticator {
	return NewStoreAuthenticator(StoreAuthConfig{Store: s, CacheTTL: ttl, Logger: zap.NewNop()})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer " + testAPIKey, want: testAPIKey},
		{name: "scheme is case-insensitive", header: "bearer  " + testAPIKey, want: testAPIKey},
		{name: "empty", header: "", wantErr: ErrMissingAPIKey},
		{name: "no scheme", header: testAPIKey, wantErr: ErrInvalidAPIKey},
		{name: "wrong key prefix", header: "Bearer tsk_abc", wantErr: ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected err %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTenantContextRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), &TenantContext{TenantID: "tenant_1"})
	if got := TenantFrom(ctx); got == nil || got.TenantID != "tenant_1" {
		t.Errorf("unexpected tenant %+v", got)
	}
	if TenantFrom(context.Background()) != nil {
		t.Error("bare context should carry no tenant")
	}
}

func TestAuthenticate_CacheMissThenHit(t *testing.T) {
	ms := &mockStore{tenants: []*store.Tenant{{
		ID: "tenant_1", Name: "mycli", APIKeyPrefix: testAPIKey[:8], APIKeyHash: testHash(t, testAPIKey),
	}}}
	a := newTestAuth(ms, time.Minute)

	for i := 0; i < 3; i++ {
		tc, err := a.Authenticate(context.Background(), testAPIKey)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if tc.TenantID != "tenant_1" || tc.Name != "mycli" {
			t.Errorf("unexpected tenant %+v", tc)
		}
	}
	if n := ms.callCount.Load(); n != 1 {
		t.Errorf("expected 1 store lookup, got %d", n)
	}
}

func TestAuthenticate_PrefixCollision(t *testing.T) {
	other := testAPIKey[:8] + "ffffffffffffffffffffffffffff"
	ms := &mockStore{tenants: []*store.Tenant{
		{ID: "tenant_other", APIKeyPrefix: testAPIKey[:8], APIKeyHash: testHash(t, other)},
		{ID: "tenant_1", APIKeyPrefix: testAPIKey[:8], APIKeyHash: testHash(t, testAPIKey)},
	}}
	a := newTestAuth(ms, time.Minute)

	tc, err := a.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatal(err)
	}
	if tc.TenantID != "tenant_1" {
		t.Errorf("expected the tenant whose hash matches, got %s", tc.TenantID)
	}
}

func TestAuthenticate_InvalidKeyNotCached(t *testing.T) {
	ms := &mockStore{tenants: []*store.Tenant{{
		ID: "tenant_1", APIKeyPrefix: testAPIKey[:8], APIKeyHash: testHash(t, testAPIKey),
	}}}
	a := newTestAuth(ms, time.Minute)
	wrong := testAPIKey[:8] + "wrongwrongwrong"

	for i := 0; i < 2; i++ {
		if _, err := a.Authenticate(context.Background(), wrong); !errors.Is(err, ErrInvalidAPIKey) {
			t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
		}
	}
	if n := ms.callCount.Load(); n != 2 {
		t.Errorf("rejected keys must not be cached; expected 2 lookups, got %d", n)
	}
	if _, err := a.Authenticate(context.Background(), "cla_"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("short key should be invalid, got %v", err)
	}
}

func TestAuthenticate_StoreDown(t *testing.T) {
	ms := &mockStore{err: errors.New("connection refused")}
	a := newTestAuth(ms, time.Minute)

	_, err := a.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got %v", err)
	}
}

func TestAuthenticate_StaleServedThenEvictedOnRevocation(t *testing.T) {
	ms := &mockStore{tenants: []*store.Tenant{{
		ID: "tenant_1", APIKeyPrefix: testAPIKey[:8], APIKeyHash: testHash(t, testAPIKey),
	}}}
	a := newTestAuth(ms, time.Millisecond)
	ctx := context.Background()

	if _, err := a.Authenticate(ctx, testAPIKey); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	ms.tenants = nil // key revoked

	tc, err := a.Authenticate(ctx, testAPIKey)
	if err != nil || tc.TenantID != "tenant_1" {
		t.Fatalf("stale entry should still be served, got %+v, %v", tc, err)
	}

	deadline := time.Now().Add(time.Second)
	for a.cache.Get(testAPIKey).Hit && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := a.Authenticate(ctx, testAPIKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("revoked key should fail after the refresh, got %v", err)
	}
}
