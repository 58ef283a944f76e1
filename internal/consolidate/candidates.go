package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/idgen"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Candidate is one proposed card derived from a single evidence ref
// (spec.md §4.4). Exactly one candidate is generated per evidence ref, even
// when two refs carry the same statement; a later candidate whose statement
// matches an existing card is turned away by the duplicate gate.
type Candidate struct {
	Index         int
	Kind          types.CardKind
	RefKind       types.RefKind
	Statement     string
	ScopeTier     types.ScopeTier
	ScopeID       string
	TopicKey      string
	EvidenceRefID string
	CandidateID   string
}

// generateCandidates builds one Candidate per evidence ref attached to
// episode, in (created_at, evidence_ref_id) order, then sorts the result by
// (kind_priority, lower(statement), scope_tier, scope_id, candidate_id) as
// required before gate evaluation.
func generateCandidates(ctx context.Context, store *sqlite.Store, episode *types.Episode) ([]Candidate, error) {
	refs, err := sqlite.ListEvidenceRefsByEpisode(ctx, store.DB(), episode.EpisodeID)
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to list evidence refs: %w", err)
	}

	candidates := make([]Candidate, 0, len(refs))
	for i, ref := range refs {
		kind := ClassifyKind(ref.RefKind, ref.ExcerptText)
		statement := hashutil.NormalizeStatement(ref.ExcerptText, 280)
		lowerStatement := strings.ToLower(statement)
		candidateID := idgen.CandidateID(episode.EpisodeID, i, string(kind), lowerStatement)
		candidates = append(candidates, Candidate{
			Index:         i,
			Kind:          kind,
			RefKind:       ref.RefKind,
			Statement:     statement,
			ScopeTier:     episode.ScopeTier,
			ScopeID:       episode.ScopeID,
			TopicKey:      hashutil.TopicKey(statement),
			EvidenceRefID: ref.EvidenceRefID,
			CandidateID:   candidateID,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if policy.KindPriority[a.Kind] != policy.KindPriority[b.Kind] {
			return policy.KindPriority[a.Kind] < policy.KindPriority[b.Kind]
		}
		la, lb := strings.ToLower(a.Statement), strings.ToLower(b.Statement)
		if la != lb {
			return la < lb
		}
		if a.ScopeTier.Rank() != b.ScopeTier.Rank() {
			return a.ScopeTier.Rank() < b.ScopeTier.Rank()
		}
		if a.ScopeID != b.ScopeID {
			return a.ScopeID < b.ScopeID
		}
		return a.CandidateID < b.CandidateID
	})
	return candidates, nil
}

// similarityGates compares a candidate's statement against every existing
// live (active/needs_recheck) card in the same (scope_tier, scope_id, kind)
// bucket, returning whether it's a near-duplicate (gate 2) or insufficiently
// novel (gate 3), and the live card count across the whole (scope_tier, kind)
// pair for the scope x kind budget gate (gate 6).
func similarityGates(ctx context.Context, store *sqlite.Store, cand Candidate) (duplicate, belowNovelty bool, bucketSize int, err error) {
	existing, err := sqlite.ListCardsByScopeKind(ctx, store.DB(), cand.ScopeTier, cand.ScopeID, cand.Kind)
	if err != nil {
		return false, false, 0, fmt.Errorf("consolidate: failed to list existing cards: %w", err)
	}
	for _, ec := range existing {
		lex := hashutil.Jaccard(cand.Statement, ec.Statement)
		cos := hashutil.CosineText(cand.Statement, ec.Statement)
		if lex >= policy.DuplicateLexThreshold && cos >= policy.DuplicateCosThreshold {
			duplicate = true
			break
		}
		if lex >= policy.NoveltyLexThreshold || cos >= policy.NoveltyCosThreshold {
			belowNovelty = true
		}
	}

	bucketSize, err = sqlite.CountCardsByScopeTierKind(ctx, store.DB(), cand.ScopeTier, cand.Kind)
	if err != nil {
		return false, false, 0, fmt.Errorf("consolidate: failed to count cards by scope_tier/kind: %w", err)
	}
	return duplicate, belowNovelty, bucketSize, nil
}
