// Package ingest implements the ingestion transaction (spec.md §4.2):
// persist an episode, its artifacts, and its evidence refs, emitting one
// episode_recorded, one artifact_recorded per artifact, one
// evidence_ref_recorded per ref, and a trailing consolidation_triggered.
// Grounded on the teacher's internal/importer (multi-row transactional
// insert with idempotent re-run over a batch of related rows).
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// ArtifactInput is one artifact attached to an episode payload.
type ArtifactInput struct {
	ArtifactID   string
	ArtifactKind string
	MimeType     string
	Content      []byte
	ContentPath  string
	MetadataJSON string
}

// EvidenceRefInput is one evidence ref attached to an episode payload.
type EvidenceRefInput struct {
	EvidenceRefID string
	RefKind       string
	ArtifactID    string
	TargetID      string
	StartOffset   *int64
	EndOffset     *int64
	LineStart     *int64
	LineEnd       *int64
	ExcerptText   string
}

// EpisodeInput is the full record-episode payload (spec.md §6).
type EpisodeInput struct {
	EpisodeID     string
	UserText      string
	AssistantText string
	ModelName     string
	ScopeTier     string
	ScopeID       string
	MetadataJSON  string
	StartedAt     *time.Time
	EndedAt       *time.Time
	Artifacts     []ArtifactInput
	EvidenceRefs  []EvidenceRefInput
}

// Result summarizes the events an ingest call emitted.
type Result struct {
	EpisodeID              string
	EpisodeEvent           types.AppendResult
	ArtifactEvents         map[string]types.AppendResult
	EvidenceRefEvents      map[string]types.AppendResult
	ConsolidationTriggered types.AppendResult
	ResolvedArtifactIDs    map[string]string // input index key -> assigned artifact_id
	ResolvedEvidenceRefIDs map[string]string
}

// Ingester persists episodes/artifacts/evidence and emits their events.
type Ingester struct {
	store *sqlite.Store
	log   *eventlog.Log
}

// New constructs an Ingester.
func New(store *sqlite.Store, log *eventlog.Log) *Ingester {
	return &Ingester{store: store, log: log}
}

// Ingest runs the full ingestion transaction described in spec.md §4.2.
func (ig *Ingester) Ingest(ctx context.Context, in EpisodeInput) (*Result, error) {
	if in.UserText == "" {
		return nil, fmt.Errorf("ingest: user_text is required")
	}
	if in.ScopeTier == "" {
		return nil, fmt.Errorf("ingest: metadata.scope_tier is required")
	}
	episodeID := in.EpisodeID
	if episodeID == "" {
		episodeID = "ep_" + uuid.NewString()
	}
	started := time.Time{}
	if in.StartedAt != nil {
		started = *in.StartedAt
	}
	ended := time.Time{}
	if in.EndedAt != nil {
		ended = *in.EndedAt
	}
	metadataJSON := in.MetadataJSON
	if metadataJSON == "" {
		metadataJSON = "{}"
	}

	payloadRecord := map[string]interface{}{
		"episode_id":     episodeID,
		"user_text":      in.UserText,
		"assistant_text": in.AssistantText,
		"model_name":     in.ModelName,
		"scope_tier":     in.ScopeTier,
		"scope_id":       in.ScopeID,
		"metadata_json":  metadataJSON,
		"started_at":     started,
		"ended_at":       ended,
	}
	_, payloadHash, err := hashutil.HashJSON(payloadRecord)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to hash episode payload: %w", err)
	}

	res := &Result{
		EpisodeID:              episodeID,
		ArtifactEvents:         map[string]types.AppendResult{},
		EvidenceRefEvents:      map[string]types.AppendResult{},
		ResolvedArtifactIDs:    map[string]string{},
		ResolvedEvidenceRefIDs: map[string]string{},
	}

	return ig.ingestSteps(ctx, episodeID, in, metadataJSON, started, ended, payloadHash, res)
}

// ingestSteps runs the ingestion steps as a sequence of idempotent row
// inserts and idempotent event appends (each event append is its own
// transaction, per internal/eventlog.Log.Append). This is deliberately not
// one giant spanning transaction: every row insert and every event append
// is individually idempotent on content-derived keys, so a crash mid-ingest
// leaves a recoverable partial state rather than a torn one -- exactly the
// case internal/ops.Recover exists to repair (spec.md §4.7 "Partial-write
// recovery", §7 RecoveryRequired).
func (ig *Ingester) ingestSteps(ctx context.Context, episodeID string, in EpisodeInput, metadataJSON string, started, ended time.Time, payloadHash string, res *Result) (*Result, error) {
	if _, err := sqlite.InsertEpisodeIfAbsent(ctx, ig.store.DB(), &types.Episode{
		EpisodeID:     episodeID,
		UserText:      in.UserText,
		AssistantText: in.AssistantText,
		ModelName:     in.ModelName,
		ScopeTier:     types.ScopeTier(in.ScopeTier),
		ScopeID:       in.ScopeID,
		MetadataJSON:  metadataJSON,
		StartedAt:     started,
		EndedAt:       ended,
		PayloadHash:   payloadHash,
	}); err != nil {
		return nil, fmt.Errorf("ingest: failed to insert episode: %w", err)
	}

	epPayload := types.EpisodeRecordedPayload{
		EpisodeID:     episodeID,
		UserText:      in.UserText,
		AssistantText: in.AssistantText,
		ModelName:     in.ModelName,
		ScopeTier:     in.ScopeTier,
		ScopeID:       in.ScopeID,
		MetadataJSON:  metadataJSON,
		StartedAt:     started.Format(time.RFC3339Nano),
		EndedAt:       ended.Format(time.RFC3339Nano),
		PayloadHash:   payloadHash,
	}
	epResult, err := ig.log.Append(ctx, eventlog.AppendInput{
		EpisodeID:      episodeID,
		EventType:      types.EventEpisodeRecorded,
		Payload:        epPayload,
		IdempotencyKey: fmt.Sprintf("episode_recorded:%s:%s", episodeID, payloadHash),
		Producer:       "ingest",
		RuleVersion:    "v1",
		Apply:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to append episode_recorded: %w", err)
	}
	res.EpisodeEvent = epResult
	if epResult.Inserted {
		if err := sqlite.SetEpisodeCreatedEvent(ctx, ig.store.DB(), episodeID, epResult.EventID); err != nil {
			return nil, err
		}
	}

	for i, a := range in.Artifacts {
		artifactID := a.ArtifactID
		if artifactID == "" {
			artifactID = fmt.Sprintf("art_%s_%d", episodeID, i)
		}
		content := a.Content
		if content == nil && a.ContentPath != "" {
			data, err := os.ReadFile(a.ContentPath)
			if err != nil {
				return nil, fmt.Errorf("ingest: failed to read artifact content_path %q: %w", a.ContentPath, err)
			}
			content = data
		}
		sum := sha256.Sum256(content)
		contentHash := hex.EncodeToString(sum[:])

		path, err := ig.writeArtifact(contentHash, content)
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to persist artifact content: %w", err)
		}

		if _, err := sqlite.InsertArtifactIfAbsent(ctx, ig.store.DB(), &types.Artifact{
			ArtifactID:   artifactID,
			EpisodeID:    episodeID,
			ArtifactKind: types.ArtifactKind(a.ArtifactKind),
			Path:         path,
			ContentHash:  contentHash,
			MimeType:     a.MimeType,
			MetadataJSON: defaultJSON(a.MetadataJSON),
		}); err != nil {
			return nil, fmt.Errorf("ingest: failed to insert artifact %s: %w", artifactID, err)
		}

		artResult, err := ig.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventArtifactRecorded,
			Payload: types.ArtifactRecordedPayload{
				ArtifactID:   artifactID,
				EpisodeID:    episodeID,
				ArtifactKind: a.ArtifactKind,
				Path:         path,
				ContentHash:  contentHash,
				MimeType:     a.MimeType,
				MetadataJSON: defaultJSON(a.MetadataJSON),
			},
			IdempotencyKey: fmt.Sprintf("artifact_recorded:%s:%s:%s", episodeID, artifactID, contentHash),
			Producer:       "ingest",
			RuleVersion:    "v1",
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to append artifact_recorded: %w", err)
		}
		res.ArtifactEvents[artifactID] = artResult
		res.ResolvedArtifactIDs[fmt.Sprintf("%d", i)] = artifactID
		if artResult.Inserted {
			if err := sqlite.SetArtifactCreatedEvent(ctx, ig.store.DB(), artifactID, artResult.EventID); err != nil {
				return nil, err
			}
		}
	}

	// Build an artifact-id -> content lookup for excerpt extraction.
	artifactContent := map[string]string{}
	for i, a := range in.Artifacts {
		resolvedID := res.ResolvedArtifactIDs[fmt.Sprintf("%d", i)]
		content := a.Content
		if content == nil && a.ContentPath != "" {
			content, _ = os.ReadFile(a.ContentPath)
		}
		artifactContent[resolvedID] = string(content)
	}

	for i, e := range in.EvidenceRefs {
		evidenceRefID := e.EvidenceRefID
		if evidenceRefID == "" {
			evidenceRefID = fmt.Sprintf("ev_%s_%d", episodeID, i)
		}
		excerpt := e.ExcerptText
		if excerpt == "" {
			source := in.UserText
			if e.RefKind != string(types.RefUserSpan) {
				source = artifactContent[e.ArtifactID]
			}
			excerpt = extractExcerpt(source, e.StartOffset, e.EndOffset, e.LineStart, e.LineEnd)
		}
		excerpt = hashutil.NormalizeStatement(excerpt, 280)

		var refHash string
		if excerpt != "" {
			refHash = hashutil.HashString(excerpt)
		} else {
			refHash = hashutil.HashString(fmt.Sprintf("%s|%s|%s", episodeID, e.RefKind, e.TargetID))
		}

		var artifactIDPtr *string
		if e.ArtifactID != "" {
			aid := e.ArtifactID
			artifactIDPtr = &aid
		}

		if _, err := sqlite.InsertEvidenceRefIfAbsent(ctx, ig.store.DB(), &types.EvidenceRef{
			EvidenceRefID: evidenceRefID,
			EpisodeID:     episodeID,
			RefKind:       types.RefKind(e.RefKind),
			ArtifactID:    artifactIDPtr,
			TargetID:      e.TargetID,
			StartOffset:   e.StartOffset,
			EndOffset:     e.EndOffset,
			LineStart:     e.LineStart,
			LineEnd:       e.LineEnd,
			ExcerptText:   excerpt,
			RefHash:       refHash,
		}); err != nil {
			return nil, fmt.Errorf("ingest: failed to insert evidence ref %s: %w", evidenceRefID, err)
		}

		evResult, err := ig.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: episodeID,
			EventType: types.EventEvidenceRefRecorded,
			Payload: types.EvidenceRefRecordedPayload{
				EvidenceRefID: evidenceRefID,
				EpisodeID:     episodeID,
				RefKind:       e.RefKind,
				ArtifactID:    e.ArtifactID,
				TargetID:      e.TargetID,
				StartOffset:   e.StartOffset,
				EndOffset:     e.EndOffset,
				LineStart:     e.LineStart,
				LineEnd:       e.LineEnd,
				ExcerptText:   excerpt,
				RefHash:       refHash,
			},
			IdempotencyKey: fmt.Sprintf("evidence_ref_recorded:%s:%s", episodeID, evidenceRefID),
			Producer:       "ingest",
			RuleVersion:    "v1",
			Apply:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest: failed to append evidence_ref_recorded: %w", err)
		}
		res.EvidenceRefEvents[evidenceRefID] = evResult
		res.ResolvedEvidenceRefIDs[fmt.Sprintf("%d", i)] = evidenceRefID
		if evResult.Inserted {
			if err := sqlite.SetEvidenceRefCreatedEvent(ctx, ig.store.DB(), evidenceRefID, evResult.EventID); err != nil {
				return nil, err
			}
		}
	}

	triggerResult, err := ig.log.Append(ctx, eventlog.AppendInput{
		EpisodeID:      episodeID,
		EventType:      types.EventConsolidationTriggered,
		Payload:        types.ConsolidationTriggeredPayload{EpisodeID: episodeID},
		IdempotencyKey: fmt.Sprintf("consolidation_triggered:%s", episodeID),
		Producer:       "ingest",
		RuleVersion:    "v1",
		Apply:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to append consolidation_triggered: %w", err)
	}
	res.ConsolidationTriggered = triggerResult

	if err := sqlite.SetLastTouchedEpisode(ctx, ig.store.DB(), episodeID); err != nil {
		return nil, err
	}

	return res, nil
}

// writeArtifact persists content under <artifacts>/<hash[:2]>/<hash> if not
// already present, content-addressed and write-once (spec.md §5).
func (ig *Ingester) writeArtifact(contentHash string, content []byte) (string, error) {
	dir := filepath.Join(ig.store.ArtifactDir(), contentHash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, contentHash)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func defaultJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// extractExcerpt pulls text by byte offsets or 1-based inclusive line
// ranges, truncated to 280 chars (spec.md §4.2 step 4).
func extractExcerpt(source string, startOffset, endOffset, lineStart, lineEnd *int64) string {
	if startOffset != nil && endOffset != nil {
		start, end := *startOffset, *endOffset
		if start < 0 {
			start = 0
		}
		if end > int64(len(source)) {
			end = int64(len(source))
		}
		if start < end {
			return source[start:end]
		}
		return ""
	}
	if lineStart != nil && lineEnd != nil {
		lines := strings.Split(source, "\n")
		start := *lineStart - 1
		end := *lineEnd
		if start < 0 {
			start = 0
		}
		if end > int64(len(lines)) {
			end = int64(len(lines))
		}
		if start < end {
			return strings.Join(lines[start:end], "\n")
		}
		return ""
	}
	return source
}
