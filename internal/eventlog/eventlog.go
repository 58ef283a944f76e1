// Package eventlog implements the append-only event log's append contract
// (spec.md §4.1): idempotent inserts, atomic per-episode sequencing, and
// canonical-JSON payload hashing, with an optional synchronous call into a
// reducer. Grounded on the teacher's internal/eventlog append path, adapted
// from its nonce-retry ID scheme to fully deterministic, content-derived
// identifiers.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Reducer applies one persisted event to the projection tables. Implemented
// by internal/reducer.Reducer; declared here to avoid an import cycle
// (eventlog is the lower layer, reducer depends on eventlog's types only
// indirectly through storage).
type Reducer interface {
	Apply(ctx context.Context, tx *sql.Tx, event *types.Event) error
}

// Log is the event-log collaborator: a Store plus an optional Reducer to
// invoke synchronously on append.
type Log struct {
	store   *sqlite.Store
	reducer Reducer
}

// New constructs a Log. reducer may be nil for append-only callers (e.g. a
// future write-ahead-only mode); every command wired in cmd/ml passes one.
func New(store *sqlite.Store, reducer Reducer) *Log {
	return &Log{store: store, reducer: reducer}
}

// AppendInput is the full set of arguments to Append (spec.md §4.1).
type AppendInput struct {
	EpisodeID      string
	EventType      types.EventType
	Payload        interface{}
	IdempotencyKey string
	Producer       string
	RuleVersion    string
	Apply          bool
}

// Append inserts a new event if IdempotencyKey is unseen, assigning the next
// seq_no for EpisodeID atomically, and invokes the reducer if Apply is true.
// If an event with IdempotencyKey already exists, its identifiers are
// returned with Inserted=false and the reducer is not re-invoked.
func (l *Log) Append(ctx context.Context, in AppendInput) (types.AppendResult, error) {
	if in.EpisodeID == "" {
		return types.AppendResult{}, fmt.Errorf("append: empty episode_id")
	}
	if in.IdempotencyKey == "" {
		return types.AppendResult{}, fmt.Errorf("append: empty idempotency_key")
	}

	existing, err := sqlite.EventRowByIdempotencyKey(ctx, l.store.DB(), in.IdempotencyKey)
	if err != nil {
		return types.AppendResult{}, fmt.Errorf("append: failed to check idempotency key: %w", err)
	}
	if existing != nil {
		return types.AppendResult{EventID: existing.EventID, SeqNo: existing.SeqNo, Inserted: false}, nil
	}

	canonical, payloadHash, err := hashutil.HashJSON(in.Payload)
	if err != nil {
		return types.AppendResult{}, fmt.Errorf("append: failed to canonicalize payload: %w", err)
	}

	var result types.AppendResult
	err = l.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Re-check inside the transaction: two concurrent appends could both
		// pass the outer check under WAL's snapshot isolation before either
		// commits. SetMaxOpenConns(1) serializes writers, but the guard costs
		// nothing and documents the actual invariant being relied upon.
		existing, err := sqlite.EventRowByIdempotencyKey(ctx, tx, in.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("failed to re-check idempotency key: %w", err)
		}
		if existing != nil {
			result = types.AppendResult{EventID: existing.EventID, SeqNo: existing.SeqNo, Inserted: false}
			return nil
		}

		seqNo, err := sqlite.NextSeqNo(ctx, tx, in.EpisodeID)
		if err != nil {
			return fmt.Errorf("failed to compute seq_no: %w", err)
		}

		event := &types.Event{
			EpisodeID:      in.EpisodeID,
			SeqNo:          seqNo,
			EventType:      in.EventType,
			PayloadJSON:    string(canonical),
			PayloadHash:    payloadHash,
			IdempotencyKey: in.IdempotencyKey,
			Producer:       in.Producer,
			RuleVersion:    in.RuleVersion,
		}
		eventID, err := sqlite.InsertEvent(ctx, tx, event)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		event.EventID = eventID

		if in.Apply && l.reducer != nil {
			persisted, err := sqlite.GetEventByID(ctx, tx, eventID)
			if err != nil {
				return fmt.Errorf("failed to reload persisted event: %w", err)
			}
			if persisted == nil {
				return fmt.Errorf("event %d vanished within its own transaction", eventID)
			}
			if err := l.reducer.Apply(ctx, tx, persisted); err != nil {
				return fmt.Errorf("reducer failed for event %d (%s): %w", eventID, in.EventType, err)
			}
		}

		result = types.AppendResult{EventID: eventID, SeqNo: seqNo, Inserted: true}
		return nil
	})
	if err != nil {
		return types.AppendResult{}, err
	}
	return result, nil
}

// Replay re-applies every event in event_id order to a fresh (truncated)
// projection, used by internal/ops for full rebuild and stability checks.
func (l *Log) Replay(ctx context.Context, reducer Reducer) error {
	return l.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := sqlite.TruncateProjections(ctx, tx); err != nil {
			return fmt.Errorf("failed to truncate projections: %w", err)
		}
		events, err := sqlite.ListAllEvents(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to list events for replay: %w", err)
		}
		for _, e := range events {
			if err := reducer.Apply(ctx, tx, e); err != nil {
				return fmt.Errorf("replay failed at event %d (%s): %w", e.EventID, e.EventType, err)
			}
		}
		return nil
	})
}
