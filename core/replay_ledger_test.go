package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryReplayLedger_FirstSightingIsNotReplay(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	replay, err := ledger.IsReplay(context.Background(), "evt_1", "sha256=abc", time.Minute)
	if err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	if replay {
		t.Fatalf("expected first sighting to be recorded, not replayed")
	}
}

func TestMemoryReplayLedger_ReplayWithinTTL(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	if replay, err := ledger.IsReplay(context.Background(), "evt_2", "sha256=abc", time.Minute); err != nil {
		t.Fatalf("first sighting: %v", err)
	} else if replay {
		t.Fatalf("expected first sighting to be recorded")
	}

	now = now.Add(30 * time.Second)
	if replay, err := ledger.IsReplay(context.Background(), "evt_2", "sha256=abc", time.Minute); err != nil {
		t.Fatalf("second sighting: %v", err)
	} else if !replay {
		t.Fatalf("expected second sighting within ttl to be a replay")
	}
}

func TestMemoryReplayLedger_ReplayDoesNotRefreshTimestamp(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := ledger.IsReplay(ctx, "evt_3", "sig", time.Minute); err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	now = now.Add(50 * time.Second)
	if replay, _ := ledger.IsReplay(ctx, "evt_3", "sig", time.Minute); !replay {
		t.Fatalf("expected replay at +50s")
	}
	now = now.Add(20 * time.Second)
	if replay, _ := ledger.IsReplay(ctx, "evt_3", "sig", time.Minute); replay {
		t.Fatalf("expected the original timestamp to expire at +70s")
	}
}

func TestMemoryReplayLedger_AcceptsAfterTTLExpiry(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	if _, err := ledger.IsReplay(context.Background(), "evt_4", "sig", time.Minute); err != nil {
		t.Fatalf("first sighting: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if replay, err := ledger.IsReplay(context.Background(), "evt_4", "sig", time.Minute); err != nil {
		t.Fatalf("sighting after ttl expiry: %v", err)
	} else if replay {
		t.Fatalf("expected sighting after ttl expiry to be treated as new")
	}
}

func TestMemoryReplayLedger_KeyIncludesSignature(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	ctx := context.Background()

	if _, err := ledger.IsReplay(ctx, "evt_5", "sig_a", 0); err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	replay, err := ledger.IsReplay(ctx, "evt_5", "sig_b", 0)
	if err != nil {
		t.Fatalf("different signature: %v", err)
	}
	if replay {
		t.Fatalf("expected a different signature for the same event to be a distinct key")
	}
}

func TestMemoryReplayLedger_DefaultTTLIsUsedForNonPositiveTTL(t *testing.T) {
	ledger := NewMemoryReplayLedger(0)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := ledger.IsReplay(ctx, "evt_6", "sig", 0); err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	now = now.Add(23 * time.Hour)
	if replay, _ := ledger.IsReplay(ctx, "evt_6", "sig", -time.Second); !replay {
		t.Fatalf("expected 24h default ttl to still hold at +23h")
	}
	now = now.Add(2 * time.Hour)
	if replay, _ := ledger.IsReplay(ctx, "evt_6", "sig", 0); replay {
		t.Fatalf("expected 24h default ttl to expire at +25h")
	}
}

func TestMemoryReplayLedger_RejectsEmptyEventID(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	if _, err := ledger.IsReplay(context.Background(), "  ", "sig", time.Minute); err == nil {
		t.Fatalf("expected empty event id to fail")
	}
}

func TestMemoryReplayLedger_CapacityEvictsOldest(t *testing.T) {
	ledger := NewMemoryReplayLedgerWithLimits(time.Hour, 3)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		if _, err := ledger.IsReplay(ctx, fmt.Sprintf("evt_%d", i), "sig", 0); err != nil {
			t.Fatalf("sighting %d: %v", i, err)
		}
	}
	if ledger.Len() != 3 {
		t.Fatalf("expected ledger bounded to 3 keys, got %d", ledger.Len())
	}
	if replay, _ := ledger.IsReplay(ctx, "evt_3", "sig", 0); !replay {
		t.Fatalf("expected newest key to survive eviction")
	}
	if replay, _ := ledger.IsReplay(ctx, "evt_0", "sig", 0); replay {
		t.Fatalf("expected oldest key to be evicted")
	}
}

func TestMemoryReplayLedger_PurgeExpired(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = ledger.IsReplay(ctx, "evt_old", "sig", 0)
	now = now.Add(45 * time.Second)
	_, _ = ledger.IsReplay(ctx, "evt_new", "sig", 0)
	now = now.Add(30 * time.Second)

	pruned, err := ledger.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one expired key, got %d", pruned)
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected one key left, got %d", ledger.Len())
	}
}

func TestMemoryReplayLedger_ForgetReleasesPair(t *testing.T) {
	ledger := NewMemoryReplayLedger(time.Minute)
	ctx := context.Background()

	if _, err := ledger.IsReplay(ctx, "evt_7", "sig", 0); err != nil {
		t.Fatalf("first sighting: %v", err)
	}
	if err := ledger.Forget(ctx, "evt_7", "sig"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if replay, _ := ledger.IsReplay(ctx, "evt_7", "sig", 0); replay {
		t.Fatalf("expected forgotten pair to be accepted again")
	}
}
