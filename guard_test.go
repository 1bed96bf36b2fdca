package guard

import (
	"context"
	"io/fs"
	"testing"
	"time"
)

func TestNewService_ReplayAndRateLimitThroughFacade(t *testing.T) {
	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	replay, err := svc.IsReplay(ctx, "evt-1", "sha256=aa", time.Hour)
	if err != nil || replay {
		t.Fatalf("expected first sighting, got replay=%t err=%v", replay, err)
	}
	replay, err = svc.IsReplay(ctx, "evt-1", "sha256=aa", time.Hour)
	if err != nil || !replay {
		t.Fatalf("expected replay, got replay=%t err=%v", replay, err)
	}

	if _, err := svc.Hit(ctx, "global:10.0.0.1", 1, time.Minute); err == nil {
		t.Fatalf("expected hit without a window store to fail")
	}
}

func TestGetMigrationsFS_ContainsBothDialects(t *testing.T) {
	for _, pattern := range []string{"data/sql/migrations/*.up.sql", "data/sql/migrations/sqlite/*.up.sql"} {
		matches, err := fs.Glob(GetMigrationsFS(), pattern)
		if err != nil {
			t.Fatalf("glob %s: %v", pattern, err)
		}
		if len(matches) < 2 {
			t.Fatalf("expected replay and agent event migrations for %s, got %v", pattern, matches)
		}
	}
}
