package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/memlogd/memlog/internal/consolidate"
	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// RecoverResult summarizes the repairs one Recover call made.
type RecoverResult struct {
	EpisodesRepaired       []string `json:"episodes_repaired"`
	ArtifactsRepaired      []string `json:"artifacts_repaired"`
	EvidenceRefsRepaired   []string `json:"evidence_refs_repaired"`
	ConsolidationTriggered []string `json:"consolidation_triggered"`
	ConsolidationsRun      []string `json:"consolidations_run,omitempty"`
}

// Recover repairs partial writes left by a crash between
// internal/ingest.Ingester's row insert and its matching event append
// (spec.md §4.7 "Partial-write recovery"). Each row and event pair is keyed
// by content-derived identifiers, so re-emitting the missing event with its
// canonical idempotency key is safe to run any number of times: a row that
// already has its event is left untouched. When runConsolidation is set,
// each episode whose consolidation_triggered event was missing and is
// re-emitted here also gets a consolidation pass; episodes that already had
// that event are not consolidated, whether or not they have a
// candidate_proposed event.
func Recover(ctx context.Context, store *sqlite.Store, log *eventlog.Log, runConsolidation bool) (*RecoverResult, error) {
	db := store.DB()
	res := &RecoverResult{}

	episodeIDs, err := sqlite.ListEpisodeIDsMissingCreatedEvent(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: recover failed to list episodes: %w", err)
	}
	for _, id := range episodeIDs {
		ep, err := sqlite.GetEpisode(ctx, db, id)
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to load episode %s: %w", id, err)
		}
		if ep == nil {
			continue
		}
		result, err := log.Append(ctx, eventlog.AppendInput{
			EpisodeID: id,
			EventType: types.EventEpisodeRecorded,
			Payload: types.EpisodeRecordedPayload{
				EpisodeID:     ep.EpisodeID,
				UserText:      ep.UserText,
				AssistantText: ep.AssistantText,
				ModelName:     ep.ModelName,
				ScopeTier:     string(ep.ScopeTier),
				ScopeID:       ep.ScopeID,
				MetadataJSON:  ep.MetadataJSON,
				StartedAt:     ep.StartedAt.Format(time.RFC3339Nano),
				EndedAt:       ep.EndedAt.Format(time.RFC3339Nano),
				PayloadHash:   ep.PayloadHash,
			},
			IdempotencyKey: fmt.Sprintf("episode_recorded:%s:%s", id, ep.PayloadHash),
			Producer:       "ops_recover",
			RuleVersion:    "v1",
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to re-emit episode_recorded for %s: %w", id, err)
		}
		if err := sqlite.SetEpisodeCreatedEvent(ctx, db, id, result.EventID); err != nil {
			return nil, err
		}
		res.EpisodesRepaired = append(res.EpisodesRepaired, id)
	}

	artifactIDs, err := sqlite.ListArtifactIDsMissingCreatedEvent(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: recover failed to list artifacts: %w", err)
	}
	for _, id := range artifactIDs {
		a, err := sqlite.GetArtifact(ctx, db, id)
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to load artifact %s: %w", id, err)
		}
		if a == nil {
			continue
		}
		result, err := log.Append(ctx, eventlog.AppendInput{
			EpisodeID: a.EpisodeID,
			EventType: types.EventArtifactRecorded,
			Payload: types.ArtifactRecordedPayload{
				ArtifactID:   a.ArtifactID,
				EpisodeID:    a.EpisodeID,
				ArtifactKind: string(a.ArtifactKind),
				Path:         a.Path,
				ContentHash:  a.ContentHash,
				MimeType:     a.MimeType,
				MetadataJSON: a.MetadataJSON,
			},
			IdempotencyKey: fmt.Sprintf("artifact_recorded:%s:%s:%s", a.EpisodeID, a.ArtifactID, a.ContentHash),
			Producer:       "ops_recover",
			RuleVersion:    "v1",
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to re-emit artifact_recorded for %s: %w", id, err)
		}
		if err := sqlite.SetArtifactCreatedEvent(ctx, db, id, result.EventID); err != nil {
			return nil, err
		}
		res.ArtifactsRepaired = append(res.ArtifactsRepaired, id)
	}

	evidenceIDs, err := sqlite.ListEvidenceRefIDsMissingCreatedEvent(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: recover failed to list evidence refs: %w", err)
	}
	for _, id := range evidenceIDs {
		e, err := sqlite.GetEvidenceRef(ctx, db, id)
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to load evidence ref %s: %w", id, err)
		}
		if e == nil {
			continue
		}
		artifactID := ""
		if e.ArtifactID != nil {
			artifactID = *e.ArtifactID
		}
		result, err := log.Append(ctx, eventlog.AppendInput{
			EpisodeID: e.EpisodeID,
			EventType: types.EventEvidenceRefRecorded,
			Payload: types.EvidenceRefRecordedPayload{
				EvidenceRefID: e.EvidenceRefID,
				EpisodeID:     e.EpisodeID,
				RefKind:       string(e.RefKind),
				ArtifactID:    artifactID,
				TargetID:      e.TargetID,
				StartOffset:   e.StartOffset,
				EndOffset:     e.EndOffset,
				LineStart:     e.LineStart,
				LineEnd:       e.LineEnd,
				ExcerptText:   e.ExcerptText,
				RefHash:       e.RefHash,
			},
			IdempotencyKey: fmt.Sprintf("evidence_ref_recorded:%s:%s", e.EpisodeID, e.EvidenceRefID),
			Producer:       "ops_recover",
			RuleVersion:    "v1",
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to re-emit evidence_ref_recorded for %s: %w", id, err)
		}
		if err := sqlite.SetEvidenceRefCreatedEvent(ctx, db, id, result.EventID); err != nil {
			return nil, err
		}
		res.EvidenceRefsRepaired = append(res.EvidenceRefsRepaired, id)
	}

	allEpisodeIDs, err := sqlite.ListAllEpisodeIDs(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: recover failed to list all episodes: %w", err)
	}
	var consolidator *consolidate.Consolidator
	if runConsolidation {
		consolidator = consolidate.New(store, log)
	}
	for _, id := range allEpisodeIDs {
		key := fmt.Sprintf("consolidation_triggered:%s", id)
		existing, err := sqlite.EventRowByIdempotencyKey(ctx, db, key)
		if err != nil {
			return nil, fmt.Errorf("ops: recover failed to check consolidation_triggered for %s: %w", id, err)
		}
		if existing != nil {
			continue
		}
		if _, err := log.Append(ctx, eventlog.AppendInput{
			EpisodeID:      id,
			EventType:      types.EventConsolidationTriggered,
			Payload:        types.ConsolidationTriggeredPayload{EpisodeID: id},
			IdempotencyKey: key,
			Producer:       "ops_recover",
			RuleVersion:    "v1",
			Apply:          true,
		}); err != nil {
			return nil, fmt.Errorf("ops: recover failed to re-emit consolidation_triggered for %s: %w", id, err)
		}
		res.ConsolidationTriggered = append(res.ConsolidationTriggered, id)

		if consolidator != nil {
			if _, err := consolidator.Consolidate(ctx, id); err != nil {
				return nil, fmt.Errorf("ops: recover failed to consolidate episode %s: %w", id, err)
			}
			res.ConsolidationsRun = append(res.ConsolidationsRun, id)
		}
	}

	return res, nil
}
