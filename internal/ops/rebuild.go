package ops

import (
	"context"
	"fmt"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/storage/sqlite"
)

// RebuildResult summarizes one full rebuild.
type RebuildResult struct {
	DigestBefore     string `json:"digest_before"`
	DigestAfter      string `json:"digest_after"`
	Stable           bool   `json:"stable,omitempty"`
	StabilityChecked bool   `json:"stability_checked"`
}

// FullRebuild truncates every projection table and replays the entire event
// log through the reducer from scratch (spec.md §4.7). When verifyStability
// is set, it replays once more and compares projection digests: since the
// projections are a pure function of the event log, a second replay from
// the same events must produce an identical digest.
func FullRebuild(ctx context.Context, store *sqlite.Store, log *eventlog.Log, reducer eventlog.Reducer, verifyStability bool) (*RebuildResult, error) {
	before, err := Digest(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("ops: rebuild failed to compute pre-rebuild digest: %w", err)
	}

	if err := log.Replay(ctx, reducer); err != nil {
		return nil, fmt.Errorf("ops: rebuild failed: %w", err)
	}

	after, err := Digest(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("ops: rebuild failed to compute post-rebuild digest: %w", err)
	}

	result := &RebuildResult{DigestBefore: before, DigestAfter: after, StabilityChecked: verifyStability}

	if verifyStability {
		if err := log.Replay(ctx, reducer); err != nil {
			return nil, fmt.Errorf("ops: rebuild stability check failed: %w", err)
		}
		again, err := Digest(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("ops: rebuild failed to compute stability-check digest: %w", err)
		}
		result.Stable = again == after
	}

	return result, nil
}
