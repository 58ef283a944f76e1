// Package dispute implements the dispute and outcome operations of
// spec.md §4.6: weighted dispute accumulation against a card with a
// scope-dependent threshold that flips it to needs_recheck, and
// evidence-anchored terminal outcomes that feed the utility projection's
// win/loss attribution. Grounded on the teacher's internal/review
// escalation path (bd/internal/review), adapted from a fixed-count
// "N objections" rule to the weighted evidence-kind mass this store uses.
package dispute

import (
	"context"
	"fmt"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/idgen"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

const producer = "dispute"
const ruleVersion = policy.CurrentRuleVersion

// Disputer runs the dispute/outcome operations against a store/log pair.
type Disputer struct {
	store *sqlite.Store
	log   *eventlog.Log
}

// New constructs a Disputer.
func New(store *sqlite.Store, log *eventlog.Log) *Disputer {
	return &Disputer{store: store, log: log}
}

// DisputeResult summarizes one RecordDispute call.
type DisputeResult struct {
	DisputeID        string
	CardID           string
	Weight           float64
	Mass             float64
	Threshold        float64
	ThresholdCrossed bool
}

// RecordDispute records one evidence-weighted challenge against cardID and,
// if the card's accumulated dispute mass now meets or exceeds its
// scope_tier's threshold while the card is still active, flips it to
// needs_recheck (spec.md §4.6). Checking `card is active` rather than
// tracking crossings explicitly is what makes the transition happen exactly
// once: once the card leaves active, later disputes can raise its mass
// further without re-emitting the transition.
func (d *Disputer) RecordDispute(ctx context.Context, episodeID, cardID, evidenceRefID string) (*DisputeResult, error) {
	card, err := sqlite.GetCard(ctx, d.store.DB(), cardID)
	if err != nil {
		return nil, fmt.Errorf("dispute: failed to load card: %w", err)
	}
	if card == nil {
		return nil, fmt.Errorf("dispute: card %q not found", cardID)
	}
	ref, err := sqlite.GetEvidenceRef(ctx, d.store.DB(), evidenceRefID)
	if err != nil {
		return nil, fmt.Errorf("dispute: failed to load evidence ref: %w", err)
	}
	if ref == nil {
		return nil, fmt.Errorf("dispute: evidence ref %q not found", evidenceRefID)
	}

	weight := policy.DisputeWeight[ref.RefKind]
	disputeID := idgen.DisputeID(cardID, evidenceRefID)

	if _, err := d.log.Append(ctx, eventlog.AppendInput{
		EpisodeID: episodeID,
		EventType: types.EventDisputeRecorded,
		Payload: types.DisputeRecordedPayload{
			DisputeID:     disputeID,
			CardID:        cardID,
			EvidenceRefID: evidenceRefID,
			Weight:        weight,
		},
		IdempotencyKey: fmt.Sprintf("dispute_recorded:%s", disputeID),
		Producer:       producer,
		RuleVersion:    ruleVersion,
		Apply:          true,
	}); err != nil {
		return nil, fmt.Errorf("dispute: failed to record dispute: %w", err)
	}

	mass, err := sqlite.SumDisputeWeight(ctx, d.store.DB(), cardID)
	if err != nil {
		return nil, fmt.Errorf("dispute: failed to sum dispute mass: %w", err)
	}
	threshold := policy.DisputeThreshold[card.ScopeTier]

	res := &DisputeResult{
		DisputeID: disputeID,
		CardID:    cardID,
		Weight:    weight,
		Mass:      mass,
		Threshold: threshold,
	}

	if mass >= threshold && card.Status == types.StatusActive {
		if _, err := d.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventCardStatusChanged,
			Payload: types.CardStatusChangedPayload{
				CardID:     cardID,
				OldStatus:  string(types.StatusActive),
				NewStatus:  string(types.StatusNeedsRecheck),
				ReasonCode: "dispute_threshold_exceeded",
			},
			IdempotencyKey: fmt.Sprintf("card_status_changed:dispute_threshold:%s", disputeID),
			Producer:       producer,
			RuleVersion:    ruleVersion,
			Apply:          true,
		}); err != nil {
			return nil, fmt.Errorf("dispute: failed to flip card to needs_recheck: %w", err)
		}
		res.ThresholdCrossed = true
	}

	return res, nil
}

// validOutcomeTypes is the closed set of terminal outcome signals
// (spec.md's GLOSSARY), checked explicitly since OutcomeType itself is just
// a string and CLI/RPC input isn't otherwise constrained to it.
var validOutcomeTypes = map[types.OutcomeType]bool{
	types.OutcomeToolSuccess:          true,
	types.OutcomeToolFailure:          true,
	types.OutcomeUserConfirmedHelpful: true,
	types.OutcomeUserCorrected:        true,
}

// OutcomeResult summarizes one RecordOutcome call.
type OutcomeResult struct {
	OutcomeID string
	SeqNo     int64
}

// RecordOutcome records one terminal signal for an episode (spec.md §4.6).
// SeqNo orders an episode's outcomes among themselves (distinct from the
// event log's per-episode seq_no, which isn't known until Append assigns
// it): it's the count of outcomes already recorded for the episode, so
// utility.go's "earliest terminal outcome" pick is a pure function of what
// was recorded before this call, not of the event ID the append happens to
// land on.
func (d *Disputer) RecordOutcome(ctx context.Context, episodeID string, outcomeType types.OutcomeType, evidenceRefIDs []string, metadataJSON string) (*OutcomeResult, error) {
	if !validOutcomeTypes[outcomeType] {
		return nil, fmt.Errorf("dispute: unknown outcome type %q", outcomeType)
	}
	if metadataJSON == "" {
		metadataJSON = "{}"
	}

	existing, err := sqlite.ListOutcomesByEpisode(ctx, d.store.DB(), episodeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: failed to list existing outcomes: %w", err)
	}
	seqNo := int64(len(existing) + 1)

	idempotencyKey, err := idgen.OutcomeIdempotencyKey(episodeID, string(outcomeType), evidenceRefIDs, metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("dispute: failed to compute outcome idempotency key: %w", err)
	}
	outcomeID := idgen.OutcomeID(idempotencyKey)
	for _, o := range existing {
		if o.OutcomeID == outcomeID {
			return &OutcomeResult{OutcomeID: o.OutcomeID, SeqNo: o.SeqNo}, nil
		}
	}

	if _, err := d.log.Append(ctx, eventlog.AppendInput{
		EpisodeID: episodeID,
		EventType: types.EventOutcomeRecorded,
		Payload: types.OutcomeRecordedPayload{
			OutcomeID:      outcomeID,
			EpisodeID:      episodeID,
			OutcomeType:    string(outcomeType),
			EvidenceRefIDs: evidenceRefIDs,
			MetadataJSON:   metadataJSON,
			SeqNo:          seqNo,
		},
		IdempotencyKey: idempotencyKey,
		Producer:       producer,
		RuleVersion:    ruleVersion,
		Apply:          true,
	}); err != nil {
		return nil, fmt.Errorf("dispute: failed to record outcome: %w", err)
	}

	return &OutcomeResult{OutcomeID: outcomeID, SeqNo: seqNo}, nil
}
