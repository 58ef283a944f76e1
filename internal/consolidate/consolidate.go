// Package consolidate turns one episode's evidence refs into durable cards
// (spec.md §4.4): candidate generation, a six-gate admission pipeline,
// merge/supersede resolution, and the daily cross-episode dedup sweep.
// Grounded on the teacher's internal/dedup clustering pass (bd/internal/dedup),
// adapted from title/body similarity clustering to the evidence-anchored,
// idempotent-event admission pipeline this store requires.
package consolidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/idgen"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

const producer = "consolidate"
const ruleVersion = policy.CurrentRuleVersion

// Consolidator runs the consolidation pipeline against a store/log pair.
type Consolidator struct {
	store *sqlite.Store
	log   *eventlog.Log
}

// New constructs a Consolidator.
func New(store *sqlite.Store, log *eventlog.Log) *Consolidator {
	return &Consolidator{store: store, log: log}
}

// Result summarizes one Consolidate call's outcome, used by cmd/ml to print
// a human-readable report.
type Result struct {
	EpisodeID  string
	Proposed   int
	Admitted   []string
	Merged     []string
	Superseded []string
	Rejected   []RejectedCandidate
}

// RejectedCandidate records one candidate that failed a gate.
type RejectedCandidate struct {
	CandidateID string
	ReasonCode  string
}

// Consolidate runs every step of the admission pipeline for one episode's
// evidence refs. Safe to re-run: every event it emits is idempotency-keyed
// on (episode_id, candidate_id), so a repeat call is a no-op against an
// already-fully-consolidated episode.
func (c *Consolidator) Consolidate(ctx context.Context, episodeID string) (*Result, error) {
	episode, err := sqlite.GetEpisode(ctx, c.store.DB(), episodeID)
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to load episode: %w", err)
	}
	if episode == nil {
		return nil, fmt.Errorf("consolidate: unknown episode %q", episodeID)
	}

	candidates, err := generateCandidates(ctx, c.store, episode)
	if err != nil {
		return nil, err
	}

	res := &Result{EpisodeID: episodeID}
	episodeKindCounts := map[types.CardKind]int{}
	episodeTotal := 0

	for _, cand := range candidates {
		proposed, err := c.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventCandidateProposed,
			Payload: types.CandidateProposedPayload{
				EpisodeID:      episodeID,
				CandidateID:    cand.CandidateID,
				Index:          cand.Index,
				Kind:           string(cand.Kind),
				Statement:      cand.Statement,
				ScopeTier:      string(cand.ScopeTier),
				ScopeID:        cand.ScopeID,
				TopicKey:       cand.TopicKey,
				EvidenceRefIDs: []string{cand.EvidenceRefID},
			},
			IdempotencyKey: fmt.Sprintf("candidate_proposed:%s:%s", episodeID, cand.CandidateID),
			Producer:       producer,
			RuleVersion:    ruleVersion,
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("consolidate: failed to propose candidate %s: %w", cand.CandidateID, err)
		}
		res.Proposed++
		if !proposed.Inserted {
			continue
		}

		if ok, reason := CheckEvidenceInvariant(cand.Kind, cand.RefKind, cand.Statement); !ok {
			if err := c.reject(ctx, episodeID, cand, reason, "", res); err != nil {
				return nil, err
			}
			continue
		}

		duplicate, belowNovelty, bucketSize, err := similarityGates(ctx, c.store, cand)
		if err != nil {
			return nil, err
		}
		if duplicate {
			if err := c.reject(ctx, episodeID, cand, ReasonDuplicateOfExisting, "", res); err != nil {
				return nil, err
			}
			continue
		}
		if belowNovelty {
			if err := c.reject(ctx, episodeID, cand, ReasonBelowNoveltyThreshold, "", res); err != nil {
				return nil, err
			}
			continue
		}

		if episodeKindCounts[cand.Kind] >= policy.EpisodeKindCap[cand.Kind] {
			if err := c.reject(ctx, episodeID, cand, ReasonEpisodeKindCapExceeded, "", res); err != nil {
				return nil, err
			}
			continue
		}
		if episodeTotal >= policy.EpisodeSoftCap {
			if err := c.reject(ctx, episodeID, cand, ReasonEpisodeSoftCapExceeded, "", res); err != nil {
				return nil, err
			}
			continue
		}
		if bucketSize >= policy.Budget(cand.ScopeTier, cand.Kind) {
			detail := fmt.Sprintf(`{"bucket_size":%d}`, bucketSize)
			if err := c.reject(ctx, episodeID, cand, ReasonScopeKindBudgetExceeded, detail, res); err != nil {
				return nil, err
			}
			continue
		}

		admittedCardID, err := c.admit(ctx, episodeID, cand, res)
		if err != nil {
			return nil, err
		}
		if admittedCardID != "" {
			episodeKindCounts[cand.Kind]++
			episodeTotal++
		}
	}

	return res, nil
}

func (c *Consolidator) reject(ctx context.Context, episodeID string, cand Candidate, reason, detail string, res *Result) error {
	if detail == "" {
		detail = "{}"
	}
	_, err := c.log.Append(ctx, eventlog.AppendInput{
		EpisodeID: episodeID,
		EventType: types.EventCardRejected,
		Payload: types.CardRejectedPayload{
			EpisodeID:   episodeID,
			CandidateID: cand.CandidateID,
			ReasonCode:  reason,
			DetailJSON:  detail,
		},
		IdempotencyKey: fmt.Sprintf("card_rejected:%s:%s", episodeID, cand.CandidateID),
		Producer:       producer,
		RuleVersion:    ruleVersion,
		Apply:          true,
	})
	if err != nil {
		return err
	}
	res.Rejected = append(res.Rejected, RejectedCandidate{CandidateID: cand.CandidateID, ReasonCode: reason})
	return nil
}

// admit resolves a candidate that passed every gate: merge into an exact
// statement match if one exists, otherwise mint a new card and, for
// normative kinds, supersede the prior same-topic card. Returns the newly
// admitted card_id, or "" if the candidate resolved into a merge instead.
func (c *Consolidator) admit(ctx context.Context, episodeID string, cand Candidate, res *Result) (string, error) {
	target, err := sqlite.FindCardByExactStatement(ctx, c.store.DB(), cand.Kind, cand.ScopeTier, cand.ScopeID, cand.Statement)
	if err != nil {
		return "", fmt.Errorf("consolidate: failed to look up exact-statement card: %w", err)
	}
	if target != nil {
		if _, err := c.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventCardMerged,
			Payload: types.CardMergedPayload{
				EpisodeID:      episodeID,
				CandidateID:    cand.CandidateID,
				TargetCardID:   target.CardID,
				EvidenceRefIDs: []string{cand.EvidenceRefID},
				ReasonCode:     "exact_statement_match",
			},
			IdempotencyKey: fmt.Sprintf("card_merged:%s:%s:%s", episodeID, cand.CandidateID, target.CardID),
			Producer:       producer,
			RuleVersion:    ruleVersion,
			Apply:          true,
		}); err != nil {
			return "", fmt.Errorf("consolidate: failed to merge candidate %s: %w", cand.CandidateID, err)
		}
		res.Merged = append(res.Merged, target.CardID)
		return "", nil
	}

	cardID := idgen.CardID(string(cand.Kind), string(cand.ScopeTier), cand.ScopeID, strings.ToLower(cand.Statement))

	var supersedesID string
	if cand.Kind.Normative() {
		old, err := sqlite.FindNormativeCardByTopic(ctx, c.store.DB(), cand.Kind, cand.ScopeTier, cand.ScopeID, cand.TopicKey)
		if err != nil {
			return "", fmt.Errorf("consolidate: failed to look up normative predecessor: %w", err)
		}
		if old != nil && old.CardID != cardID {
			supersedesID = old.CardID
		}
	}

	if _, err := c.log.Append(ctx, eventlog.AppendInput{
		EpisodeID: episodeID,
		EventType: types.EventCardAdmitted,
		Payload: types.CardAdmittedPayload{
			EpisodeID:        episodeID,
			CandidateID:      cand.CandidateID,
			CardID:           cardID,
			Kind:             string(cand.Kind),
			Statement:        cand.Statement,
			ScopeTier:        string(cand.ScopeTier),
			ScopeID:          cand.ScopeID,
			TopicKey:         cand.TopicKey,
			Tags:             []string{string(cand.Kind)},
			EvidenceRefIDs:   []string{cand.EvidenceRefID},
			SupersedesCardID: supersedesID,
		},
		IdempotencyKey: fmt.Sprintf("card_admitted:%s:%s", episodeID, cand.CandidateID),
		Producer:       producer,
		RuleVersion:    ruleVersion,
		Apply:          true,
	}); err != nil {
		return "", fmt.Errorf("consolidate: failed to admit candidate %s: %w", cand.CandidateID, err)
	}
	res.Admitted = append(res.Admitted, cardID)

	if supersedesID != "" {
		if _, err := c.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventCardSuperseded,
			Payload: types.CardSupersededPayload{
				EpisodeID:  episodeID,
				OldCardID:  supersedesID,
				NewCardID:  cardID,
				ReasonCode: "topic_superseded",
			},
			IdempotencyKey: fmt.Sprintf("card_superseded:%s:%s:%s", episodeID, supersedesID, cardID),
			Producer:       producer,
			RuleVersion:    ruleVersion,
			Apply:          true,
		}); err != nil {
			return "", fmt.Errorf("consolidate: failed to supersede %s with %s: %w", supersedesID, cardID, err)
		}
		res.Superseded = append(res.Superseded, supersedesID)
	}

	return cardID, nil
}
