// Package ops implements memlog's operational hardening surface (spec.md
// §4.7): the projection digest, health check, full rebuild, partial-write
// recovery, embedding migration, and the four rollout gates. Grounded on
// the teacher's doctor/health subsystem (bd/cmd/bd/doctor) and its
// migrations.go exclusive-lock replay pattern.
package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Digest computes a stable SHA-256 over canonical JSON of every projection
// table (spec.md §4.7), stripping two classes of unstable field: surrogate
// autoincrement keys that don't reset across a truncate+replay
// (consolidation_decisions.decision_id, card_status_history.id) and
// wall-clock created_at columns stamped by SQLite's DEFAULT CURRENT_TIMESTAMP
// at insert time, which a fresh replay necessarily re-stamps with a
// different value. card_embeddings' source vector is included since it's a
// pure function of (statement, model) via the pseudo-embedding, so it's
// replay-stable like everything else kept in.
func Digest(ctx context.Context, store *sqlite.Store) (string, error) {
	db := store.DB()

	cards, err := sqlite.ListAllCards(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list cards: %w", err)
	}
	cardEvidence, err := sqlite.ListAllCardEvidenceLinks(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list card evidence: %w", err)
	}
	decisions, err := sqlite.ListAllDecisions(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list decisions: %w", err)
	}
	history, err := sqlite.ListAllStatusHistory(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list status history: %w", err)
	}
	embeddings, err := sqlite.ListAllCardEmbeddings(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list embeddings: %w", err)
	}
	packs, err := sqlite.ListAllPackSnapshots(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list pack snapshots: %w", err)
	}
	exposures, err := sqlite.ListAllExposures(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list exposures: %w", err)
	}
	disputes, err := sqlite.ListAllDisputes(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list disputes: %w", err)
	}
	outcomes, err := sqlite.ListAllOutcomes(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list outcomes: %w", err)
	}
	utility, err := sqlite.ListAllUtilityStats(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list utility stats: %w", err)
	}
	ledgers, err := sqlite.ListAllEpisodeLedgers(ctx, db)
	if err != nil {
		return "", fmt.Errorf("ops: digest failed to list episode ledgers: %w", err)
	}

	record := map[string]interface{}{
		"cards":           digestCards(cards),
		"card_evidence":   cardEvidence,
		"decisions":       digestDecisions(decisions),
		"status_history":  digestStatusHistory(history),
		"card_embeddings": digestEmbeddings(embeddings),
		"pack_snapshots":  digestPackSnapshots(packs),
		"exposures":       exposures,
		"disputes":        digestDisputes(disputes),
		"outcomes":        digestOutcomes(outcomes),
		"utility_stats":   digestUtility(utility),
		"episode_ledgers": ledgers,
	}

	_, digest, err := hashutil.HashJSON(record)
	if err != nil {
		return "", fmt.Errorf("ops: failed to hash projection digest: %w", err)
	}
	return digest, nil
}

func digestCards(cards []*types.Card) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(cards))
	for _, c := range cards {
		out = append(out, map[string]interface{}{
			"card_id":            c.CardID,
			"kind":               c.Kind,
			"statement":          c.Statement,
			"scope_tier":         c.ScopeTier,
			"scope_id":           c.ScopeID,
			"topic_key":          c.TopicKey,
			"tags":               c.Tags,
			"status":             c.Status,
			"supersedes_card_id": c.SupersedesCardID,
			"created_event_id":   c.CreatedEventID,
			"updated_event_id":   c.UpdatedEventID,
			"archived":           c.ArchivedAt != nil,
		})
	}
	return out
}

func digestDecisions(decisions []*types.ConsolidationDecision) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, map[string]interface{}{
			"episode_id":    d.EpisodeID,
			"candidate_id":  d.CandidateID,
			"decision_type": d.DecisionType,
			"card_id":       d.CardID,
			"reason_code":   d.ReasonCode,
			"detail_json":   d.DetailJSON,
			"event_id":      d.EventID,
		})
	}
	return out
}

func digestStatusHistory(history []*types.StatusHistoryEntry) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]interface{}{
			"card_id":    h.CardID,
			"old_status": h.OldStatus,
			"new_status": h.NewStatus,
			"reason":     h.Reason,
			"event_id":   h.EventID,
		})
	}
	return out
}

func digestEmbeddings(embeddings map[string]*types.CardEmbedding) []map[string]interface{} {
	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		e := embeddings[id]
		out = append(out, map[string]interface{}{
			"card_id":          e.CardID,
			"model":            e.Model,
			"dim":              e.Dim,
			"vector":           e.Vector,
			"updated_event_id": e.UpdatedEventID,
		})
	}
	return out
}

func digestPackSnapshots(packs []*types.PackSnapshot) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(packs))
	for _, p := range packs {
		out = append(out, map[string]interface{}{
			"pack_id":          p.PackID,
			"episode_id":       p.EpisodeID,
			"query_text":       p.QueryText,
			"channel":          p.Channel,
			"policy_version":   p.PolicyVersion,
			"ranked_json":      p.RankedJSON,
			"selected_json":    p.SelectedJSON,
			"created_event_id": p.CreatedEventID,
		})
	}
	return out
}

func digestDisputes(disputes []*types.Dispute) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, map[string]interface{}{
			"dispute_id":      d.DisputeID,
			"card_id":         d.CardID,
			"evidence_ref_id": d.EvidenceRefID,
			"weight":          d.Weight,
			"source_event_id": d.SourceEventID,
		})
	}
	return out
}

func digestOutcomes(outcomes []*types.Outcome) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, map[string]interface{}{
			"outcome_id":       o.OutcomeID,
			"episode_id":       o.EpisodeID,
			"outcome_type":     o.OutcomeType,
			"evidence_ref_ids": o.EvidenceRefIDs,
			"metadata_json":    o.MetadataJSON,
			"seq_no":           o.SeqNo,
			"source_event_id":  o.SourceEventID,
		})
	}
	return out
}

func digestUtility(stats map[string]*types.UtilityStats) []map[string]interface{} {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		s := stats[id]
		out = append(out, map[string]interface{}{
			"card_id":          s.CardID,
			"wins":             s.Wins,
			"losses":           s.Losses,
			"reuse":            s.Reuse,
			"updated_event_id": s.UpdatedEventID,
		})
	}
	return out
}
