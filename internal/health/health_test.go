package health

import (
	"context"
	"testing"
	"time"
)

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("ledger", func(ctx context.Context) Status {
		return Status{Name: "ledger", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("Expected aggregate unhealthy when one checker fails")
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "database" || !statuses[0].Healthy {
		t.Errorf("Unexpected first status: %+v", statuses[0])
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("Detail = %q, want %q", statuses[1].Detail, "connection refused")
	}
}

func TestCheckAllEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Error("Expected empty registry to report healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("Expected no statuses, got %d", len(statuses))
	}
}

func TestCheckTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(10 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Status{Name: "slow", Healthy: false, Detail: ctx.Err().Error()}
		case <-time.After(time.Second):
			return Status{Name: "slow", Healthy: true}
		}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("CheckAll took %v, expected the per-check timeout to cut it short", elapsed)
	}
	if healthy {
		t.Error("Expected timed-out checker to report unhealthy")
	}
	if statuses[0].Detail == "" {
		t.Error("Expected timeout detail on the status")
	}
}
