package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/logging"
	"github.com/memlogd/memlog/internal/types"
)

// episodeInputDoc is the JSON shape --input files are decoded into, mirroring
// ingest.EpisodeInput's field names so the CLI's on-disk contract matches
// the in-process struct exactly.
type episodeInputDoc struct {
	EpisodeID     string                 `json:"episode_id"`
	UserText      string                 `json:"user_text"`
	AssistantText string                 `json:"assistant_text"`
	ModelName     string                 `json:"model_name"`
	ScopeTier     string                 `json:"scope_tier"`
	ScopeID       string                 `json:"scope_id"`
	Metadata      map[string]interface{} `json:"metadata"`
	StartedAt     *time.Time             `json:"started_at"`
	EndedAt       *time.Time             `json:"ended_at"`
	Artifacts     []artifactInputDoc     `json:"artifacts"`
	EvidenceRefs  []evidenceRefInputDoc  `json:"evidence_refs"`
}

type artifactInputDoc struct {
	ArtifactID   string                 `json:"artifact_id"`
	ArtifactKind string                 `json:"artifact_kind"`
	MimeType     string                 `json:"mime_type"`
	Content      string                 `json:"content"`
	ContentPath  string                 `json:"content_path"`
	Metadata     map[string]interface{} `json:"metadata"`
}

type evidenceRefInputDoc struct {
	EvidenceRefID string `json:"evidence_ref_id"`
	RefKind       string `json:"ref_kind"`
	ArtifactID    string `json:"artifact_id"`
	TargetID      string `json:"target_id"`
	StartOffset   *int64 `json:"start_offset"`
	EndOffset     *int64 `json:"end_offset"`
	LineStart     *int64 `json:"line_start"`
	LineEnd       *int64 `json:"line_end"`
	ExcerptText   string `json:"excerpt_text"`
}

var recordEpisodeCmd = &cobra.Command{
	Use:     "record-episode",
	GroupID: "log",
	Short:   "Ingest one episode (plus artifacts/evidence) and emit its events",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath, _ := cmd.Flags().GetString("input")
		if inputPath == "" {
			return fmt.Errorf("record-episode: --input is required")
		}
		raw, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("record-episode: reading --input: %w", err)
		}
		var doc episodeInputDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("record-episode: parsing --input: %w", err)
		}

		metaJSON := "{}"
		if doc.Metadata != nil {
			b, err := json.Marshal(doc.Metadata)
			if err != nil {
				return err
			}
			metaJSON = string(b)
		}

		scopeTier, scopeID := doc.ScopeTier, doc.ScopeID
		if scopeTier == "" {
			if v, ok := doc.Metadata["scope_tier"].(string); ok {
				scopeTier = v
			}
		}
		if scopeID == "" {
			if v, ok := doc.Metadata["scope_id"].(string); ok {
				scopeID = v
			}
		}

		in := ingest.EpisodeInput{
			EpisodeID:     doc.EpisodeID,
			UserText:      doc.UserText,
			AssistantText: doc.AssistantText,
			ModelName:     doc.ModelName,
			ScopeTier:     scopeTier,
			ScopeID:       scopeID,
			MetadataJSON:  metaJSON,
			StartedAt:     doc.StartedAt,
			EndedAt:       doc.EndedAt,
		}
		if in.ScopeTier == "" {
			in.ScopeTier = cfg.ScopeTier
		}
		if in.ScopeID == "" {
			in.ScopeID = cfg.ScopeID
		}

		for _, a := range doc.Artifacts {
			aMeta := "{}"
			if a.Metadata != nil {
				b, err := json.Marshal(a.Metadata)
				if err != nil {
					return err
				}
				aMeta = string(b)
			}
			in.Artifacts = append(in.Artifacts, ingest.ArtifactInput{
				ArtifactID:   a.ArtifactID,
				ArtifactKind: a.ArtifactKind,
				MimeType:     a.MimeType,
				Content:      []byte(a.Content),
				ContentPath:  a.ContentPath,
				MetadataJSON: aMeta,
			})
		}
		for _, ev := range doc.EvidenceRefs {
			in.EvidenceRefs = append(in.EvidenceRefs, ingest.EvidenceRefInput{
				EvidenceRefID: ev.EvidenceRefID,
				RefKind:       ev.RefKind,
				ArtifactID:    ev.ArtifactID,
				TargetID:      ev.TargetID,
				StartOffset:   ev.StartOffset,
				EndOffset:     ev.EndOffset,
				LineStart:     ev.LineStart,
				LineEnd:       ev.LineEnd,
				ExcerptText:   ev.ExcerptText,
			})
		}

		res, err := eng.RecordEpisode(cmd.Context(), in)
		if err != nil {
			return err
		}

		log := logging.New(*commandLogger())
		logging.EventAppended(log, string(types.EventEpisodeRecorded), res.EpisodeID, res.EpisodeEvent.EventID, res.EpisodeEvent.Inserted)

		return emit(res)
	},
}

var appendEventCmd = &cobra.Command{
	Use:     "append-event",
	GroupID: "log",
	Short:   "Append one event directly to the log",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		eventType, _ := cmd.Flags().GetString("type")
		payloadRaw, _ := cmd.Flags().GetString("payload")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
		producer, _ := cmd.Flags().GetString("producer")
		ruleVersion, _ := cmd.Flags().GetString("rule-version")

		if episodeID == "" || eventType == "" || idempotencyKey == "" {
			return fmt.Errorf("append-event: --episode, --type, and --idempotency-key are required")
		}

		var payload interface{}
		if payloadRaw != "" {
			if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
				return fmt.Errorf("append-event: parsing --payload: %w", err)
			}
		}

		res, err := eng.AppendEvent(cmd.Context(), eventlog.AppendInput{
			EpisodeID:      episodeID,
			EventType:      types.EventType(eventType),
			Payload:        payload,
			IdempotencyKey: idempotencyKey,
			Producer:       producer,
			RuleVersion:    ruleVersion,
			Apply:          true,
		})
		if err != nil {
			return err
		}

		log := logging.New(*commandLogger())
		logging.EventAppended(log, eventType, episodeID, res.EventID, res.Inserted)

		return emit(res)
	},
}

func init() {
	recordEpisodeCmd.Flags().String("input", "", "path to a JSON file describing the episode (required)")
	rootCmd.AddCommand(recordEpisodeCmd)

	appendEventCmd.Flags().String("episode", "", "episode id (required)")
	appendEventCmd.Flags().String("type", "", "event type (required)")
	appendEventCmd.Flags().String("payload", "", "JSON payload")
	appendEventCmd.Flags().String("idempotency-key", "", "idempotency key (required)")
	appendEventCmd.Flags().String("producer", "", "producer identifier")
	appendEventCmd.Flags().String("rule-version", "", "rule_version this event was produced under")
	rootCmd.AddCommand(appendEventCmd)
}
