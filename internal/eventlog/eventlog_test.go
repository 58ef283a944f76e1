package eventlog_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

func newLog(t *testing.T) *eventlog.Log {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memlog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return eventlog.New(store, nil)
}

func TestAppendAssignsIncreasingSeqNoPerEpisode(t *testing.T) {
	log := newLog(t)
	ctx := context.Background()

	first, err := log.Append(ctx, eventlog.AppendInput{
		EpisodeID:      "ep_1",
		EventType:      types.EventEpisodeRecorded,
		Payload:        map[string]string{"a": "1"},
		IdempotencyKey: "key_1",
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.SeqNo != 1 {
		t.Fatalf("expected seq_no 1, got %d", first.SeqNo)
	}
	if !first.Inserted {
		t.Fatal("expected first append to be a fresh insert")
	}

	second, err := log.Append(ctx, eventlog.AppendInput{
		EpisodeID:      "ep_1",
		EventType:      types.EventArtifactRecorded,
		Payload:        map[string]string{"a": "2"},
		IdempotencyKey: "key_2",
	})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.SeqNo != 2 {
		t.Fatalf("expected seq_no 2, got %d", second.SeqNo)
	}

	otherEpisode, err := log.Append(ctx, eventlog.AppendInput{
		EpisodeID:      "ep_2",
		EventType:      types.EventEpisodeRecorded,
		Payload:        map[string]string{"a": "3"},
		IdempotencyKey: "key_3",
	})
	if err != nil {
		t.Fatalf("append to second episode: %v", err)
	}
	if otherEpisode.SeqNo != 1 {
		t.Fatalf("expected a fresh episode to start its own seq_no at 1, got %d", otherEpisode.SeqNo)
	}
}

func TestAppendIsIdempotentOnDuplicateKey(t *testing.T) {
	log := newLog(t)
	ctx := context.Background()

	in := eventlog.AppendInput{
		EpisodeID:      "ep_1",
		EventType:      types.EventEpisodeRecorded,
		Payload:        map[string]string{"a": "1"},
		IdempotencyKey: "dup_key",
	}

	first, err := log.Append(ctx, in)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	in.Payload = map[string]string{"a": "1", "ignored": "different_payload_same_key"}
	second, err := log.Append(ctx, in)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if second.Inserted {
		t.Fatal("expected a duplicate idempotency key to be treated as a no-op")
	}
	if second.EventID != first.EventID || second.SeqNo != first.SeqNo {
		t.Fatalf("expected duplicate append to return the original identifiers, got %+v vs %+v", first, second)
	}
}

func TestAppendRejectsEmptyEpisodeOrKey(t *testing.T) {
	log := newLog(t)
	ctx := context.Background()

	if _, err := log.Append(ctx, eventlog.AppendInput{IdempotencyKey: "k"}); err == nil {
		t.Fatal("expected an error for an empty episode_id")
	}
	if _, err := log.Append(ctx, eventlog.AppendInput{EpisodeID: "ep_1"}); err == nil {
		t.Fatal("expected an error for an empty idempotency_key")
	}
}
