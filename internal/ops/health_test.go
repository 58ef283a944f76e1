package ops_test

import (
	"context"
	"testing"

	"github.com/memlogd/memlog/internal/ops"
)

func TestHealthCleanStoreReportsHealthy(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_health_1", "always pin the dependency versions")

	report, err := ops.Health(context.Background(), store)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !report.Healthy {
		t.Fatalf("expected a clean store to be healthy, findings: %+v", report.Findings)
	}
}
