// Package reducer applies one persisted event to memlog's projection
// tables. Dispatch is an exhaustive switch on event_type (spec.md §9
// "Polymorphism": a new event type must fail to compile here until handled).
// Every handler is pure with respect to the event and current projection
// state, uses only the event's persisted timestamp and event_id for
// recency, and is safe to re-invoke under replay. Grounded on the teacher's
// reducer-less direct-mutation style (internal/storage/sqlite/events.go),
// generalized here into an explicit, single-entry-point reducer because
// spec.md §4.3 requires one.
package reducer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Reducer implements eventlog.Reducer.
type Reducer struct{}

// New constructs a Reducer. It holds no state: every handler reads and
// writes through the transaction it is given.
func New() *Reducer {
	return &Reducer{}
}

// Apply dispatches event to its handler.
func (r *Reducer) Apply(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	switch event.EventType {
	case types.EventEpisodeRecorded, types.EventArtifactRecorded,
		types.EventEvidenceRefRecorded, types.EventConsolidationTriggered:
		// Entity rows (episodes/artifacts/evidence_refs) are written
		// directly by internal/ingest inside the same transaction that
		// appends these events; they are source-of-truth tables, not
		// projections, so replay must not try to reconstruct them here.
		return nil

	case types.EventCandidateProposed:
		return r.applyCandidateProposed(ctx, tx, event)

	case types.EventCardRejected:
		return r.applyCardRejected(ctx, tx, event)

	case types.EventCardAdmitted:
		return r.applyCardAdmitted(ctx, tx, event)

	case types.EventCardMerged:
		return r.applyCardMerged(ctx, tx, event)

	case types.EventCardSuperseded:
		return r.applyCardSuperseded(ctx, tx, event)

	case types.EventCardArchived:
		return r.applyCardArchived(ctx, tx, event)

	case types.EventCardStatusChanged, types.EventCardDeprecated:
		return r.applyCardStatusChanged(ctx, tx, event)

	case types.EventDisputeRecorded:
		return r.applyDisputeRecorded(ctx, tx, event)

	case types.EventExposureRecorded:
		return r.applyExposureRecorded(ctx, tx, event)

	case types.EventOutcomeRecorded:
		return r.applyOutcomeRecorded(ctx, tx, event)

	default:
		return fmt.Errorf("reducer: unhandled event type %q", event.EventType)
	}
}

func unmarshalPayload(event *types.Event, v interface{}) error {
	if err := json.Unmarshal([]byte(event.PayloadJSON), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", event.EventType, err)
	}
	return nil
}

func (r *Reducer) applyCandidateProposed(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CandidateProposedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	if _, err := sqlite.InsertDecision(ctx, tx, &types.ConsolidationDecision{
		EpisodeID:    p.EpisodeID,
		CandidateID:  p.CandidateID,
		DecisionType: types.EventCandidateProposed,
		DetailJSON:   "{}",
		EventID:      event.EventID,
	}); err != nil {
		return err
	}
	return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
}

func (r *Reducer) applyCardRejected(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardRejectedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	detail := p.DetailJSON
	if detail == "" {
		detail = "{}"
	}
	if _, err := sqlite.InsertDecision(ctx, tx, &types.ConsolidationDecision{
		EpisodeID:    p.EpisodeID,
		CandidateID:  p.CandidateID,
		DecisionType: types.EventCardRejected,
		ReasonCode:   p.ReasonCode,
		DetailJSON:   detail,
		EventID:      event.EventID,
	}); err != nil {
		return err
	}
	return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
}

// applyCardAdmitted upserts the card, links its evidence, computes its FTS
// index entry and pseudo-embedding (both fixed for the card's lifetime:
// card_id is a hash of kind+scope+statement, so the statement — and hence
// these derived artifacts — never changes post-admission), and refreshes
// the episode ledger. No decision row: admission is not in the decision-row
// event list in spec.md §4.3.
func (r *Reducer) applyCardAdmitted(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardAdmittedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}

	card := &types.Card{
		CardID:         p.CardID,
		Kind:           types.CardKind(p.Kind),
		Statement:      p.Statement,
		ScopeTier:      types.ScopeTier(p.ScopeTier),
		ScopeID:        p.ScopeID,
		TopicKey:       p.TopicKey,
		Tags:           p.Tags,
		Status:         types.StatusActive,
		CreatedEventID: event.EventID,
		UpdatedEventID: event.EventID,
	}
	if p.SupersedesCardID != "" {
		supersedes := p.SupersedesCardID
		card.SupersedesCardID = &supersedes
	}
	if err := sqlite.UpsertCard(ctx, tx, card); err != nil {
		return err
	}
	for _, refID := range p.EvidenceRefIDs {
		if err := sqlite.LinkCardEvidence(ctx, tx, p.CardID, refID); err != nil {
			return err
		}
	}
	if err := sqlite.IndexCard(ctx, tx, p.CardID, p.Statement, p.TopicKey, p.Tags); err != nil {
		return err
	}
	if err := computeAndStoreEmbedding(ctx, tx, p.CardID, p.Statement, event.EventID); err != nil {
		return err
	}
	return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
}

func (r *Reducer) applyCardMerged(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardMergedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	if _, err := sqlite.InsertDecision(ctx, tx, &types.ConsolidationDecision{
		EpisodeID:    p.EpisodeID,
		CandidateID:  p.CandidateID,
		DecisionType: types.EventCardMerged,
		CardID:       p.TargetCardID,
		ReasonCode:   p.ReasonCode,
		DetailJSON:   "{}",
		EventID:      event.EventID,
	}); err != nil {
		return err
	}
	target, err := sqlite.GetCard(ctx, tx, p.TargetCardID)
	if err != nil {
		return err
	}
	if target == nil {
		// Defensive no-op: the target card is gone (spec.md §7 "reducer
		// handlers must be defensive against missing rows").
		return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
	}
	for _, refID := range p.EvidenceRefIDs {
		if err := sqlite.LinkCardEvidence(ctx, tx, p.TargetCardID, refID); err != nil {
			return err
		}
	}
	target.UpdatedEventID = event.EventID
	if err := sqlite.UpsertCard(ctx, tx, target); err != nil {
		return err
	}
	return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
}

func (r *Reducer) applyCardSuperseded(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardSupersededPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	if _, err := sqlite.InsertDecision(ctx, tx, &types.ConsolidationDecision{
		EpisodeID:    p.EpisodeID,
		CandidateID:  "",
		DecisionType: types.EventCardSuperseded,
		CardID:       p.OldCardID,
		ReasonCode:   p.ReasonCode,
		DetailJSON:   fmt.Sprintf(`{"new_card_id":%q}`, p.NewCardID),
		EventID:      event.EventID,
	}); err != nil {
		return err
	}
	if err := transitionCardStatus(ctx, tx, p.OldCardID, types.StatusDeprecated, p.ReasonCode, event, false); err != nil {
		return err
	}
	return refreshEpisodeLedger(ctx, tx, p.EpisodeID, event.EventID)
}

func (r *Reducer) applyCardArchived(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardArchivedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	if _, err := sqlite.InsertDecision(ctx, tx, &types.ConsolidationDecision{
		EpisodeID:    "",
		CandidateID:  "",
		DecisionType: types.EventCardArchived,
		CardID:       p.CardID,
		ReasonCode:   p.ReasonCode,
		DetailJSON:   "{}",
		EventID:      event.EventID,
	}); err != nil {
		return err
	}
	return transitionCardStatus(ctx, tx, p.CardID, types.StatusArchived, p.ReasonCode, event, true)
}

func (r *Reducer) applyCardStatusChanged(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.CardStatusChangedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	archives := types.CardStatus(p.NewStatus) == types.StatusArchived
	return transitionCardStatus(ctx, tx, p.CardID, types.CardStatus(p.NewStatus), p.ReasonCode, event, archives)
}

// transitionCardStatus moves cardID to newStatus, stamping archived_at only
// when archiving, and appends a status_history row. A missing card is a
// no-op (spec.md §7).
func transitionCardStatus(ctx context.Context, tx *sql.Tx, cardID string, newStatus types.CardStatus, reason string, event *types.Event, archiving bool) error {
	card, err := sqlite.GetCard(ctx, tx, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return nil
	}
	oldStatus := card.Status
	var archivedAt interface{}
	if archiving {
		archivedAt = event.CreatedAt
	}
	if err := sqlite.SetCardStatus(ctx, tx, cardID, newStatus, archivedAt, event.EventID); err != nil {
		return err
	}
	return sqlite.InsertStatusHistory(ctx, tx, &types.StatusHistoryEntry{
		CardID:    cardID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Reason:    reason,
		EventID:   event.EventID,
	})
}

func (r *Reducer) applyDisputeRecorded(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.DisputeRecordedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	_, err := sqlite.InsertDispute(ctx, tx, &types.Dispute{
		DisputeID:     p.DisputeID,
		CardID:        p.CardID,
		EvidenceRefID: p.EvidenceRefID,
		Weight:        p.Weight,
		SourceEventID: event.EventID,
	})
	return err
}

func (r *Reducer) applyExposureRecorded(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.ExposureRecordedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	rankedJSON, err := json.Marshal(p.Ranked)
	if err != nil {
		return fmt.Errorf("failed to marshal ranked list: %w", err)
	}
	selectedJSON, err := json.Marshal(p.Selected)
	if err != nil {
		return fmt.Errorf("failed to marshal selected list: %w", err)
	}
	if err := sqlite.InsertPackSnapshot(ctx, tx, &types.PackSnapshot{
		PackID:         p.PackID,
		EpisodeID:      p.EpisodeID,
		QueryText:      p.QueryText,
		Channel:        types.Channel(p.Channel),
		PolicyVersion:  p.PolicyVersion,
		RankedJSON:     string(rankedJSON),
		SelectedJSON:   string(selectedJSON),
		CreatedEventID: event.EventID,
	}); err != nil {
		return err
	}
	for i, sel := range p.Selected {
		exposureID := fmt.Sprintf("exp_%s", hashutil.HashString(fmt.Sprintf("%s|%s|%d", p.PackID, sel.CardID, i+1))[:16])
		if err := sqlite.InsertExposure(ctx, tx, &types.Exposure{
			ExposureID:    exposureID,
			PackID:        p.PackID,
			CardID:        sel.CardID,
			RankPosition:  i + 1,
			ScoreTotal:    sel.Components.Total,
			Channel:       types.Channel(p.Channel),
			SourceEventID: event.EventID,
		}); err != nil {
			return err
		}
	}
	if err := sqlite.SetLastTouchedPack(ctx, tx, p.PackID); err != nil {
		return err
	}
	return recomputeUtility(ctx, tx)
}

func (r *Reducer) applyOutcomeRecorded(ctx context.Context, tx *sql.Tx, event *types.Event) error {
	var p types.OutcomeRecordedPayload
	if err := unmarshalPayload(event, &p); err != nil {
		return err
	}
	if err := sqlite.InsertOutcome(ctx, tx, &types.Outcome{
		OutcomeID:      p.OutcomeID,
		EpisodeID:      p.EpisodeID,
		OutcomeType:    types.OutcomeType(p.OutcomeType),
		EvidenceRefIDs: p.EvidenceRefIDs,
		MetadataJSON:   p.MetadataJSON,
		SeqNo:          p.SeqNo,
		SourceEventID:  event.EventID,
	}); err != nil {
		return err
	}
	return recomputeUtility(ctx, tx)
}

// refreshEpisodeLedger recomputes the per-episode consolidation ledger
// (decision-type counts plus a reason-code histogram) from the event log
// itself, rather than from the decision table, since card_admitted events
// carry no decision row (spec.md §4.3, §4.4 "Ledger").
func refreshEpisodeLedger(ctx context.Context, tx *sql.Tx, episodeID string, eventID int64) error {
	events, err := sqlite.ListEventsByEpisode(ctx, tx, episodeID)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	reasons := map[string]int{}
	for _, e := range events {
		switch e.EventType {
		case types.EventCandidateProposed, types.EventCardRejected, types.EventCardAdmitted,
			types.EventCardMerged, types.EventCardSuperseded, types.EventCardArchived:
			counts[string(e.EventType)]++
		}
		if e.EventType == types.EventCardRejected {
			var p types.CardRejectedPayload
			if err := json.Unmarshal([]byte(e.PayloadJSON), &p); err == nil && p.ReasonCode != "" {
				reasons[p.ReasonCode]++
			}
		}
	}
	return sqlite.UpsertEpisodeLedger(ctx, tx, &sqlite.EpisodeLedger{
		EpisodeID:      episodeID,
		Counts:         counts,
		Reasons:        reasons,
		UpdatedEventID: eventID,
	})
}

// computeAndStoreEmbedding derives a card's pseudo-embedding from its
// (immutable) statement using the current default model tag.
func computeAndStoreEmbedding(ctx context.Context, tx *sql.Tx, cardID, statement string, eventID int64) error {
	vec := hashutil.PseudoEmbedding(statement, policy.DefaultEmbeddingModel)
	return sqlite.UpsertCardEmbedding(ctx, tx, &types.CardEmbedding{
		CardID:         cardID,
		Model:          policy.DefaultEmbeddingModel,
		Dim:            hashutil.PseudoEmbeddingDim,
		Vector:         vec,
		UpdatedEventID: eventID,
	})
}
