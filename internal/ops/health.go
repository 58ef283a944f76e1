package ops

import (
	"context"
	"fmt"

	"github.com/memlogd/memlog/internal/storage/sqlite"
)

// Finding is one health-check violation.
type Finding struct {
	Check   string `json:"check"`
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail"`
}

// HealthReport is the outcome of one Health call.
type HealthReport struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// Health runs the store-wide consistency checks from spec.md §4.7: every
// episode's event sequence is gap-free starting at 1, idempotency_key is
// globally unique, every card carries an embedding, every exposure's pack
// exists, and every outcome's source event exists. Grounded on the
// teacher's doctor checks (bd/cmd/bd/doctor), adapted from repo-structure
// checks to event-log/projection consistency checks.
func Health(ctx context.Context, store *sqlite.Store) (*HealthReport, error) {
	db := store.DB()
	report := &HealthReport{Healthy: true}

	episodeIDs, err := sqlite.DistinctEpisodeIDsWithEvents(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: health failed to list episodes: %w", err)
	}
	for _, id := range episodeIDs {
		ok, err := sqlite.CheckEpisodeSeqGapFree(ctx, db, id)
		if err != nil {
			return nil, fmt.Errorf("ops: health failed to check seq gaps: %w", err)
		}
		if !ok {
			report.Findings = append(report.Findings, Finding{
				Check:   "seq_no_gap_free",
				Subject: id,
				Detail:  "episode's event seq_no values are not exactly 1..N",
			})
		}
	}

	dupCount, err := sqlite.CountIdempotencyKeyDuplicates(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: health failed to count idempotency duplicates: %w", err)
	}
	if dupCount > 0 {
		report.Findings = append(report.Findings, Finding{
			Check:  "idempotency_key_unique",
			Detail: fmt.Sprintf("%d idempotency_key value(s) appear more than once", dupCount),
		})
	}

	cards, err := sqlite.ListAllCards(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: health failed to list cards: %w", err)
	}
	for _, c := range cards {
		emb, err := sqlite.GetCardEmbedding(ctx, db, c.CardID)
		if err != nil {
			return nil, fmt.Errorf("ops: health failed to load embedding for %s: %w", c.CardID, err)
		}
		if emb == nil {
			report.Findings = append(report.Findings, Finding{
				Check:   "card_has_embedding",
				Subject: c.CardID,
				Detail:  "card has no card_embeddings row",
			})
		}
	}

	exposures, err := sqlite.ListAllExposures(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: health failed to list exposures: %w", err)
	}
	packCache := map[string]bool{}
	for _, e := range exposures {
		if _, seen := packCache[e.PackID]; !seen {
			p, err := sqlite.GetPackSnapshot(ctx, db, e.PackID)
			if err != nil {
				return nil, fmt.Errorf("ops: health failed to load pack %s: %w", e.PackID, err)
			}
			packCache[e.PackID] = p != nil
		}
		if !packCache[e.PackID] {
			report.Findings = append(report.Findings, Finding{
				Check:   "exposure_has_pack",
				Subject: e.ExposureID,
				Detail:  fmt.Sprintf("exposure references missing pack %s", e.PackID),
			})
		}
	}

	outcomes, err := sqlite.ListAllOutcomes(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: health failed to list outcomes: %w", err)
	}
	for _, o := range outcomes {
		ev, err := sqlite.GetEventByID(ctx, db, o.SourceEventID)
		if err != nil {
			return nil, fmt.Errorf("ops: health failed to load event %d: %w", o.SourceEventID, err)
		}
		if ev == nil {
			report.Findings = append(report.Findings, Finding{
				Check:   "outcome_has_event",
				Subject: o.OutcomeID,
				Detail:  fmt.Sprintf("outcome references missing event %d", o.SourceEventID),
			})
		}
	}

	report.Healthy = len(report.Findings) == 0
	return report, nil
}
