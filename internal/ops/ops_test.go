package ops_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/consolidate"
	"github.com/memlogd/memlog/internal/dispute"
	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/reducer"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

func newHarness(t *testing.T) (*sqlite.Store, *eventlog.Log) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "memlog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := eventlog.New(store, reducer.New())
	return store, log
}

// seedEpisode ingests and consolidates one episode with a single user-span
// evidence ref that admits as a constraint card, returning the episode and
// card IDs.
func seedEpisode(t *testing.T, store *sqlite.Store, log *eventlog.Log, episodeID, excerpt string) (string, string) {
	t.Helper()
	ctx := context.Background()

	ig := ingest.New(store, log)
	res, err := ig.Ingest(ctx, ingest.EpisodeInput{
		EpisodeID:     episodeID,
		UserText:      "a turn worth remembering",
		AssistantText: "acknowledged",
		ScopeTier:     string(types.ScopeRepo),
		ScopeID:       "repo_1",
		EvidenceRefs: []ingest.EvidenceRefInput{
			{
				EvidenceRefID: "ev_" + episodeID,
				RefKind:       string(types.RefUserSpan),
				TargetID:      "turn_1",
				ExcerptText:   excerpt,
			},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	co := consolidate.New(store, log)
	cres, err := co.Consolidate(ctx, res.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(cres.Admitted) != 1 {
		t.Fatalf("expected exactly one admitted card, got %d (%v)", len(cres.Admitted), cres.Admitted)
	}
	return res.EpisodeID, cres.Admitted[0]
}

func recordTerminalOutcome(t *testing.T, store *sqlite.Store, log *eventlog.Log, episodeID string, outcomeType types.OutcomeType, evidenceRefID string) {
	t.Helper()
	d := dispute.New(store, log)
	if _, err := d.RecordOutcome(context.Background(), episodeID, outcomeType, []string{evidenceRefID}, ""); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
}
