package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1", Name: "mycli"})

	result := cache.Get("cla_abc123")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Tenant.TenantID != "tenant_1" {
		t.Errorf("expected tenant_1, got %s", result.Tenant.TenantID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(time.Minute)

	result := cache.Get("cla_nonexistent")
	if result.Hit || result.Tenant != nil || result.NeedsRefresh {
		t.Errorf("expected empty result on miss, got %+v", result)
	}
}

func TestCache_StaleHit_OnlyOneRefreshSignal(t *testing.T) {
	cache := NewAuthCache(time.Millisecond)
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1"})
	time.Sleep(5 * time.Millisecond)

	r1 := cache.Get("cla_abc123")
	if !r1.Hit || !r1.NeedsRefresh {
		t.Fatalf("first stale read should hit and signal refresh, got %+v", r1)
	}
	r2 := cache.Get("cla_abc123")
	if !r2.Hit {
		t.Fatal("expected stale hit on second read")
	}
	if r2.NeedsRefresh {
		t.Error("second stale read should not signal refresh while one is in flight")
	}
	if r2.Tenant.TenantID != "tenant_1" {
		t.Error("stale hit should still return the tenant")
	}
}

func TestCache_SetAfterStale_ResetsFreshness(t *testing.T) {
	cache := NewAuthCache(time.Millisecond)
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1"})
	time.Sleep(5 * time.Millisecond)

	if r := cache.Get("cla_abc123"); !r.NeedsRefresh {
		t.Fatal("expected refresh signal")
	}
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1", Name: "renamed"})

	r := cache.Get("cla_abc123")
	if !r.Hit || r.NeedsRefresh {
		t.Fatalf("newly set entry should be a fresh hit, got %+v", r)
	}
	if r.Tenant.Name != "renamed" {
		t.Errorf("expected refreshed tenant, got %+v", r.Tenant)
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1"})
	cache.Delete("cla_abc123")

	if cache.Get("cla_abc123").Hit {
		t.Error("expected miss after delete")
	}
}

func TestCache_Purge(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_old", &TenantContext{TenantID: "tenant_1"})
	cache.Set("cla_new", &TenantContext{TenantID: "tenant_1"})
	cache.Set("cla_other", &TenantContext{TenantID: "tenant_2"})

	cache.Purge("tenant_1")

	if cache.Get("cla_old").Hit || cache.Get("cla_new").Hit {
		t.Error("purged tenant keys should miss")
	}
	if !cache.Get("cla_other").Hit {
		t.Error("other tenants should be untouched")
	}
}

func TestCache_ConcurrentStaleRefresh(t *testing.T) {
	cache := NewAuthCache(time.Millisecond)
	cache.Set("cla_key", &TenantContext{TenantID: "tenant_1"})
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	var refreshCount atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := cache.Get("cla_key")
			if result.NeedsRefresh {
				refreshCount.Add(1)
			}
			if !result.Hit {
				t.Error("expected stale hit")
			}
		}()
	}
	wg.Wait()

	if n := refreshCount.Load(); n != 1 {
		t.Errorf("expected exactly 1 refresh signal, got %d", n)
	}
}

func BenchmarkCache_Get_FreshHit(b *testing.B) {
	cache := NewAuthCache(5 * time.Minute)
	cache.Set("cla_bench_key", &TenantContext{TenantID: "tenant_bench", Name: "mycli"})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !cache.Get("cla_bench_key").Hit {
				b.Fatal("expected hit")
			}
		}
	})
}

func TestCache_KeyMovedToAnotherTenant(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_shared", &TenantContext{TenantID: "tenant_1"})
	cache.Set("cla_shared", &TenantContext{TenantID: "tenant_2"})

	cache.Purge("tenant_1")
	r := cache.Get("cla_shared")
	if !r.Hit || r.Tenant.TenantID != "tenant_2" {
		t.Fatalf("purging the old tenant should keep the moved key, got %+v", r)
	}

	cache.Purge("tenant_2")
	if cache.Get("cla_shared").Hit {
		t.Error("expected miss after purging the new tenant")
	}
	if n := cache.Len(); n != 0 {
		t.Errorf("expected empty cache, got %d entries", n)
	}
}

func TestCache_DeleteAndPurgeLeaveNoIndex(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_a", &TenantContext{TenantID: "tenant_1"})
	cache.Set("cla_b", &TenantContext{TenantID: "tenant_2"})

	cache.Delete("cla_a")
	cache.Delete("cla_missing")
	if _, ok := cache.byTenant["tenant_1"]; ok {
		t.Error("deleting a tenant's last key should drop its index")
	}

	cache.Purge("tenant_2")
	cache.Purge("tenant_unknown")
	if len(cache.byTenant) != 0 || cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries and %d tenants", cache.Len(), len(cache.byTenant))
	}
}

func TestCache_ExpiryFollowsClock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewAuthCache(30 * time.Second)
	cache.now = func() time.Time { return now }
	cache.Set("cla_abc123", &TenantContext{TenantID: "tenant_1"})

	now = now.Add(29 * time.Second)
	if r := cache.Get("cla_abc123"); r.NeedsRefresh {
		t.Fatal("entry inside its TTL should be fresh")
	}
	now = now.Add(time.Second)
	if r := cache.Get("cla_abc123"); !r.Hit || !r.NeedsRefresh {
		t.Fatalf("entry at its TTL should be a stale hit, got %+v", r)
	}
}

func TestCache_DoesNotRetainPlaintextKey(t *testing.T) {
	cache := NewAuthCache(time.Minute)
	cache.Set("cla_secret_value", &TenantContext{TenantID: "tenant_1"})

	if _, ok := cache.entries[digestKey("cla_secret_value")]; !ok || cache.Len() != 1 {
		t.Fatalf("expected a single entry under the key digest, got %d", cache.Len())
	}
}
