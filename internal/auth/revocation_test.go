package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryRevocations(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	list := NewMemoryRevocations()
	list.now = func() time.Time { return now }

	if err := list.Revoke(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := list.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	if revoked, _ := list.IsRevoked(ctx, "jti-2"); revoked {
		t.Fatal("unknown id reported revoked")
	}

	now = now.Add(2 * time.Hour)
	if revoked, _ := list.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatal("entry should lapse after token expiry")
	}
}

func TestMemoryRevocationsClaimOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	list := NewMemoryRevocations()
	list.now = func() time.Time { return now }

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := list.Claim(ctx, "jti-1", now.Add(time.Hour))
			if err != nil {
				t.Errorf("Claim: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins.Load())
	}
	if revoked, _ := list.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("claimed id should be revoked")
	}

	if err := list.Revoke(ctx, "jti-2", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, _ := list.Claim(ctx, "jti-2", now.Add(time.Hour)); ok {
		t.Fatal("revoked id claimed again")
	}
	if ok, _ := list.Claim(ctx, "jti-3", now.Add(-time.Minute)); ok {
		t.Fatal("expired id claimed")
	}
}
