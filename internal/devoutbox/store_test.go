package devoutbox

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	store.Put(ctx, "users", "a@x.com", KindPasswordReset, "tok-1", time.Now().UTC().Add(5*time.Minute))

	msg, ok := store.Get(ctx, "users", "a@x.com", KindPasswordReset)
	if !ok {
		t.Fatal("Get should return the entry after Put")
	}
	if msg.Secret != "tok-1" {
		t.Errorf("secret = %q", msg.Secret)
	}
	if _, ok := store.Get(ctx, "admins", "a@x.com", KindPasswordReset); ok {
		t.Error("entries are scoped by entity")
	}
	if _, ok := store.Get(ctx, "users", "a@x.com", KindEmailVerification); ok {
		t.Error("entries are scoped by kind")
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	_ = store.SendEmailVerification(ctx, "users", "a@x.com", "111111")
	_ = store.SendEmailVerification(ctx, "users", "a@x.com", "222222")
	msg, ok := store.Get(ctx, "users", "a@x.com", KindEmailVerification)
	if !ok || msg.Secret != "222222" {
		t.Errorf("got %+v, %v; want latest code", msg, ok)
	}
}

func TestMemoryStore_Expired(t *testing.T) {
	store := NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	store.Put(ctx, "users", "a@x.com", KindPasswordReset, "tok", time.Now().UTC().Add(-time.Second))
	if _, ok := store.Get(ctx, "users", "a@x.com", KindPasswordReset); ok {
		t.Fatal("expired entry must not be returned")
	}
	store.mu.RLock()
	n := len(store.m)
	store.mu.RUnlock()
	if n != 0 {
		t.Error("expired entry should be removed on Get")
	}
}

func TestMemoryStore_NotifierTTL(t *testing.T) {
	store := NewMemoryStore(30*time.Minute, 24*time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }
	ctx := context.Background()
	_ = store.SendPasswordReset(ctx, "vendors", "v@x.com", "tok")
	msg, ok := store.Get(ctx, "vendors", "v@x.com", KindPasswordReset)
	if !ok || !msg.ExpiresAt.Equal(now.Add(30*time.Minute)) {
		t.Errorf("got %+v, %v", msg, ok)
	}
	now = now.Add(31 * time.Minute)
	if _, ok := store.Get(ctx, "vendors", "v@x.com", KindPasswordReset); ok {
		t.Error("entry must expire after the reset TTL")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore(time.Hour, time.Hour)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.SendPasswordReset(ctx, "users", "a@x.com", "tok")
			store.Get(ctx, "users", "a@x.com", KindPasswordReset)
		}()
	}
	wg.Wait()
}
