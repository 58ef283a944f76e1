package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/memlogd/memlog/internal/consolidate"
	"github.com/memlogd/memlog/internal/dispute"
	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/reducer"
	"github.com/memlogd/memlog/internal/retrieval"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Engine is the single entry point cmd/ml drives: one open store, one event
// log, and one instance of every operation package, behind typed errors.
// Grounded on bd's top-level beads.go façade (a constructor that wires every
// internal package once and hands back a struct of bound methods).
type Engine struct {
	store   *sqlite.Store
	log     *eventlog.Log
	reducer *reducer.Reducer

	ingester     *ingest.Ingester
	consolidator *consolidate.Consolidator
	retriever    *retrieval.Retriever
	disputer     *dispute.Disputer

	lock *flock.Flock

	gateThresholds *ops.GateThresholds
}

// Open acquires the single-writer advisory lock on dbPath+".lock", opens the
// SQLite store, and wires every collaborator package against it. gateOverrides
// may be nil, in which case every gates/status evaluation falls back to the
// policy package's built-in thresholds.
func Open(ctx context.Context, dbPath string, gateOverrides *ops.GateThresholds) (*Engine, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Open", fmt.Errorf("acquire lock: %w", err))
	}
	if !locked {
		return nil, newErr(KindPersistenceFailure, "engine.Open", fmt.Errorf("database %s is locked by another process", dbPath))
	}

	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, newErr(KindPersistenceFailure, "engine.Open", err)
	}

	red := reducer.New()
	evLog := eventlog.New(store, red)

	return &Engine{
		store:          store,
		log:            evLog,
		reducer:        red,
		ingester:       ingest.New(store, evLog),
		consolidator:   consolidate.New(store, evLog),
		retriever:      retrieval.New(store, evLog),
		disputer:       dispute.New(store, evLog),
		lock:           lock,
		gateThresholds: gateOverrides,
	}, nil
}

// Close releases the store and the single-writer lock, store first so the
// lock is held for the full lifetime of any in-flight write.
func (e *Engine) Close() error {
	storeErr := e.store.Close()
	lockErr := e.lock.Unlock()
	if storeErr != nil {
		return newErr(KindPersistenceFailure, "engine.Close", storeErr)
	}
	if lockErr != nil {
		return newErr(KindPersistenceFailure, "engine.Close", lockErr)
	}
	return nil
}

// RecordEpisode ingests one episode (plus its artifacts and evidence refs)
// and emits the episode_recorded/artifact_recorded/evidence_ref_recorded/
// consolidation_triggered events.
func (e *Engine) RecordEpisode(ctx context.Context, in ingest.EpisodeInput) (*ingest.Result, error) {
	res, err := e.ingester.Ingest(ctx, in)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.RecordEpisode", err)
	}
	return res, nil
}

// AppendEvent appends one arbitrary event directly, for callers that bypass
// the record-episode convenience path (spec.md's append-event command).
func (e *Engine) AppendEvent(ctx context.Context, in eventlog.AppendInput) (types.AppendResult, error) {
	res, err := e.log.Append(ctx, in)
	if err != nil {
		return res, newErr(KindPersistenceFailure, "engine.AppendEvent", err)
	}
	return res, nil
}

// Consolidate runs the candidate generation and gate pipeline for one
// episode's evidence against the current card set.
func (e *Engine) Consolidate(ctx context.Context, episodeID string) (*consolidate.Result, error) {
	exists, err := sqlite.EpisodeExists(ctx, e.store.DB(), episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Consolidate", err)
	}
	if !exists {
		return nil, newErr(KindNotFound, "engine.Consolidate", fmt.Errorf("episode %s not found", episodeID))
	}
	res, err := e.consolidator.Consolidate(ctx, episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Consolidate", err)
	}
	return res, nil
}

// Ledger returns one episode's consolidation ledger row.
func (e *Engine) Ledger(ctx context.Context, episodeID string) (*sqlite.EpisodeLedger, error) {
	ledger, err := sqlite.GetEpisodeLedger(ctx, e.store.DB(), episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Ledger", err)
	}
	if ledger == nil {
		return nil, newErr(KindNotFound, "engine.Ledger", fmt.Errorf("no ledger for episode %s", episodeID))
	}
	return ledger, nil
}

// ExplainConsolidation returns every consolidation_decisions row for one
// episode, in decision order, for the human/JSON explain-consolidation view.
func (e *Engine) ExplainConsolidation(ctx context.Context, episodeID string) ([]*types.ConsolidationDecision, error) {
	decisions, err := sqlite.ListDecisionsByEpisode(ctx, e.store.DB(), episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.ExplainConsolidation", err)
	}
	return decisions, nil
}

// Dedup runs the daily deduplication sweep across the full active card set.
func (e *Engine) Dedup(ctx context.Context) (*consolidate.DedupResult, error) {
	res, err := e.consolidator.DailyDedup(ctx)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Dedup", err)
	}
	return res, nil
}

// Pack builds and persists a ranked, slot-capped context pack for one
// episode/query, recording its snapshot and exposure events.
func (e *Engine) Pack(ctx context.Context, in retrieval.PackInput) (*retrieval.PackResult, error) {
	res, err := e.retriever.Pack(ctx, in)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Pack", err)
	}
	return res, nil
}

// Search ranks cards against a query without persisting a snapshot or
// exposure -- the read-only counterpart to Pack.
func (e *Engine) Search(ctx context.Context, in retrieval.PackInput, limit int, includeArchived bool) ([]retrieval.ScoredCard, error) {
	res, err := e.retriever.Search(ctx, in, limit, includeArchived)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Search", err)
	}
	return res, nil
}

// ExplainPack returns a previously recorded pack snapshot by ID, or the most
// recent one for an episode when packID is empty.
func (e *Engine) ExplainPack(ctx context.Context, episodeID, packID string) (*types.PackSnapshot, error) {
	if packID != "" {
		snap, err := sqlite.GetPackSnapshot(ctx, e.store.DB(), packID)
		if err != nil {
			return nil, newErr(KindPersistenceFailure, "engine.ExplainPack", err)
		}
		if snap == nil {
			return nil, newErr(KindNotFound, "engine.ExplainPack", fmt.Errorf("pack %s not found", packID))
		}
		return snap, nil
	}
	snap, err := sqlite.LatestPackForEpisode(ctx, e.store.DB(), episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.ExplainPack", err)
	}
	if snap == nil {
		return nil, newErr(KindNotFound, "engine.ExplainPack", fmt.Errorf("no pack recorded for episode %s", episodeID))
	}
	return snap, nil
}

// RecordDispute logs one evidence-weighted dispute against a card, possibly
// crossing its scope-tier threshold and demoting it to needs_recheck.
func (e *Engine) RecordDispute(ctx context.Context, episodeID, cardID, evidenceRefID string) (*dispute.DisputeResult, error) {
	res, err := e.disputer.RecordDispute(ctx, episodeID, cardID, evidenceRefID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.RecordDispute", err)
	}
	return res, nil
}

// RecordOutcome records one terminal signal (success/failure/confirmed/
// corrected) for an episode's exposures.
func (e *Engine) RecordOutcome(ctx context.Context, episodeID string, outcomeType types.OutcomeType, evidenceRefIDs []string, metadataJSON string) (*dispute.OutcomeResult, error) {
	switch outcomeType {
	case types.OutcomeToolSuccess, types.OutcomeToolFailure, types.OutcomeUserConfirmedHelpful, types.OutcomeUserCorrected:
	default:
		return nil, newErr(KindInvalidInput, "engine.RecordOutcome", fmt.Errorf("unknown outcome type %q", outcomeType))
	}
	res, err := e.disputer.RecordOutcome(ctx, episodeID, outcomeType, evidenceRefIDs, metadataJSON)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.RecordOutcome", err)
	}
	return res, nil
}

// StatusReport is `status`'s combined view: the rollout gates plus a
// lightweight consistency check, so an operator gets one command to ask
// "is this store healthy and how close is it to instrumentation-ready".
type StatusReport struct {
	Gates  *ops.GateReport   `json:"gates"`
	Health *ops.HealthReport `json:"health"`
}

// Status summarizes recent event volume, rollout-gate readiness, and basic
// store health -- the human/JSON view spec.md's `status` command renders.
func (e *Engine) Status(ctx context.Context, days int) (*StatusReport, error) {
	gates, err := ops.Gates(ctx, e.store, days, nowFunc(), e.gateThresholds)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Status", err)
	}
	health, err := ops.Health(ctx, e.store)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Status", err)
	}
	return &StatusReport{Gates: gates, Health: health}, nil
}

// Gates evaluates the four rollout readiness gates over the trailing window.
func (e *Engine) Gates(ctx context.Context, days int) (*ops.GateReport, error) {
	report, err := ops.Gates(ctx, e.store, days, nowFunc(), e.gateThresholds)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Gates", err)
	}
	return report, nil
}

// Recover repairs partial-write artifacts: *_recorded events missing after a
// crash between row insert and event append, and episodes that never
// received their consolidation_triggered event.
func (e *Engine) Recover(ctx context.Context, runConsolidation bool) (*ops.RecoverResult, error) {
	res, err := ops.Recover(ctx, e.store, e.log, runConsolidation)
	if err != nil {
		return nil, newErr(KindRecoveryRequired, "engine.Recover", err)
	}
	return res, nil
}

// Health runs the read-only consistency checks ops.Health defines.
func (e *Engine) Health(ctx context.Context) (*ops.HealthReport, error) {
	report, err := ops.Health(ctx, e.store)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.Health", err)
	}
	return report, nil
}

// VerifyIdempotency counts duplicate idempotency_key values across the
// event log; a nonzero count means the uniqueness invariant was violated.
func (e *Engine) VerifyIdempotency(ctx context.Context) (int, error) {
	count, err := sqlite.CountIdempotencyKeyDuplicates(ctx, e.store.DB())
	if err != nil {
		return 0, newErr(KindPersistenceFailure, "engine.VerifyIdempotency", err)
	}
	return count, nil
}

// FullRebuild truncates every projection table and replays the event log
// through the reducer from scratch, optionally replaying twice to verify the
// resulting projection digest is stable.
func (e *Engine) FullRebuild(ctx context.Context, verifyStability bool) (*ops.RebuildResult, error) {
	res, err := ops.FullRebuild(ctx, e.store, e.log, e.reducer, verifyStability)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.FullRebuild", err)
	}
	return res, nil
}

// Replay is an alias for FullRebuild without a stability check, matching
// spec.md §6's standalone `replay` command.
func (e *Engine) Replay(ctx context.Context) (*ops.RebuildResult, error) {
	return e.FullRebuild(ctx, false)
}

// MigrateEmbeddings recomputes every (optionally from-model-filtered) card's
// embedding under a new model tag and dimension.
func (e *Engine) MigrateEmbeddings(ctx context.Context, toModel, fromModel string, dim int) (*ops.MigrateEmbeddingsResult, error) {
	if toModel == "" {
		return nil, newErr(KindInvalidInput, "engine.MigrateEmbeddings", fmt.Errorf("to-model is required"))
	}
	res, err := ops.MigrateEmbeddings(ctx, e.store, toModel, fromModel, dim)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.MigrateEmbeddings", err)
	}
	return res, nil
}

// ExportedEvent is one line of spec.md §6's export format: a canonical event
// plus its already-decoded payload, ready to marshal one-per-line.
type ExportedEvent struct {
	EventID   int64           `json:"event_id"`
	SeqNo     int64           `json:"seq_no"`
	EventType types.EventType `json:"event_type"`
	Payload   interface{}     `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExportEvents returns one episode's full event log sorted by seq_no, the
// canonical export format spec.md §6 describes.
func (e *Engine) ExportEvents(ctx context.Context, episodeID string) ([]ExportedEvent, error) {
	if episodeID == "" {
		return nil, newErr(KindInvalidInput, "engine.ExportEvents", fmt.Errorf("episode is required"))
	}
	events, err := sqlite.ListEventsByEpisode(ctx, e.store.DB(), episodeID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.ExportEvents", err)
	}
	out := make([]ExportedEvent, 0, len(events))
	for _, ev := range events {
		var payload interface{}
		if ev.PayloadJSON != "" {
			if err := json.Unmarshal([]byte(ev.PayloadJSON), &payload); err != nil {
				return nil, newErr(KindPersistenceFailure, "engine.ExportEvents", fmt.Errorf("decoding payload for event %d: %w", ev.EventID, err))
			}
		}
		out = append(out, ExportedEvent{
			EventID:   ev.EventID,
			SeqNo:     ev.SeqNo,
			EventType: ev.EventType,
			Payload:   payload,
			CreatedAt: ev.CreatedAt,
		})
	}
	return out, nil
}

// ExportedCard is one card's full evidentiary trail: its statement plus
// every linked evidence ref's excerpt. The supplemented single-card export
// (`export --episode --card-id`) alongside the log-level ExportEvents.
type ExportedCard struct {
	Card     *types.Card
	Evidence []*types.EvidenceRef
}

// ExportCard returns one card's statement plus every linked evidence ref.
func (e *Engine) ExportCard(ctx context.Context, cardID string) (*ExportedCard, error) {
	if cardID == "" {
		return nil, newErr(KindInvalidInput, "engine.ExportCard", fmt.Errorf("card-id is required"))
	}
	card, err := sqlite.GetCard(ctx, e.store.DB(), cardID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.ExportCard", err)
	}
	if card == nil {
		return nil, newErr(KindNotFound, "engine.ExportCard", fmt.Errorf("card %s not found", cardID))
	}
	refIDs, err := sqlite.ListCardEvidence(ctx, e.store.DB(), card.CardID)
	if err != nil {
		return nil, newErr(KindPersistenceFailure, "engine.ExportCard", err)
	}
	refs := make([]*types.EvidenceRef, 0, len(refIDs))
	for _, refID := range refIDs {
		ref, err := sqlite.GetEvidenceRef(ctx, e.store.DB(), refID)
		if err != nil {
			return nil, newErr(KindPersistenceFailure, "engine.ExportCard", err)
		}
		if ref != nil {
			refs = append(refs, ref)
		}
	}
	return &ExportedCard{Card: card, Evidence: refs}, nil
}

// nowFunc is a seam so tests could inject a fixed clock; production always
// uses the wall clock.
var nowFunc = time.Now
