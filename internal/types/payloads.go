package types

// This file defines the JSON shape of every event's payload (spec.md §4,
// §6). Producers (ingest, consolidate, retrieval, dispute) build one of
// these, pass it to eventlog.Append, and the reducer unmarshals the
// persisted payload_json back into the same struct before dispatch.

// EpisodeRecordedPayload backs EventEpisodeRecorded.
type EpisodeRecordedPayload struct {
	EpisodeID     string `json:"episode_id"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	ModelName     string `json:"model_name"`
	ScopeTier     string `json:"scope_tier"`
	ScopeID       string `json:"scope_id"`
	MetadataJSON  string `json:"metadata_json"`
	StartedAt     string `json:"started_at"`
	EndedAt       string `json:"ended_at"`
	PayloadHash   string `json:"payload_hash"`
}

// ArtifactRecordedPayload backs EventArtifactRecorded.
type ArtifactRecordedPayload struct {
	ArtifactID   string `json:"artifact_id"`
	EpisodeID    string `json:"episode_id"`
	ArtifactKind string `json:"artifact_kind"`
	Path         string `json:"path"`
	ContentHash  string `json:"content_hash"`
	MimeType     string `json:"mime_type"`
	MetadataJSON string `json:"metadata_json"`
}

// EvidenceRefRecordedPayload backs EventEvidenceRefRecorded.
type EvidenceRefRecordedPayload struct {
	EvidenceRefID string `json:"evidence_ref_id"`
	EpisodeID     string `json:"episode_id"`
	RefKind       string `json:"ref_kind"`
	ArtifactID    string `json:"artifact_id,omitempty"`
	TargetID      string `json:"target_id"`
	StartOffset   *int64 `json:"start_offset,omitempty"`
	EndOffset     *int64 `json:"end_offset,omitempty"`
	LineStart     *int64 `json:"line_start,omitempty"`
	LineEnd       *int64 `json:"line_end,omitempty"`
	ExcerptText   string `json:"excerpt_text"`
	RefHash       string `json:"ref_hash"`
}

// ConsolidationTriggeredPayload backs EventConsolidationTriggered.
type ConsolidationTriggeredPayload struct {
	EpisodeID string `json:"episode_id"`
}

// CandidateProposedPayload backs EventCandidateProposed.
type CandidateProposedPayload struct {
	EpisodeID      string   `json:"episode_id"`
	CandidateID    string   `json:"candidate_id"`
	Index          int      `json:"index"`
	Kind           string   `json:"kind"`
	Statement      string   `json:"statement"`
	ScopeTier      string   `json:"scope_tier"`
	ScopeID        string   `json:"scope_id"`
	TopicKey       string   `json:"topic_key"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
}

// CardRejectedPayload backs EventCardRejected.
type CardRejectedPayload struct {
	EpisodeID   string `json:"episode_id"`
	CandidateID string `json:"candidate_id"`
	ReasonCode  string `json:"reason_code"`
	DetailJSON  string `json:"detail_json"`
}

// CardAdmittedPayload backs EventCardAdmitted.
type CardAdmittedPayload struct {
	EpisodeID        string   `json:"episode_id"`
	CandidateID      string   `json:"candidate_id"`
	CardID           string   `json:"card_id"`
	Kind             string   `json:"kind"`
	Statement        string   `json:"statement"`
	ScopeTier        string   `json:"scope_tier"`
	ScopeID          string   `json:"scope_id"`
	TopicKey         string   `json:"topic_key"`
	Tags             []string `json:"tags"`
	EvidenceRefIDs   []string `json:"evidence_ref_ids"`
	SupersedesCardID string   `json:"supersedes_card_id,omitempty"`
}

// CardMergedPayload backs EventCardMerged.
type CardMergedPayload struct {
	EpisodeID           string   `json:"episode_id"`
	CandidateID         string   `json:"candidate_id"`
	TargetCardID        string   `json:"target_card_id"`
	EvidenceRefIDs      []string `json:"evidence_ref_ids"`
	ReasonCode          string   `json:"reason_code"`
	AttributedEpisodeID string   `json:"attributed_episode_id,omitempty"`
}

// CardSupersededPayload backs EventCardSuperseded.
type CardSupersededPayload struct {
	EpisodeID  string `json:"episode_id"`
	OldCardID  string `json:"old_card_id"`
	NewCardID  string `json:"new_card_id"`
	ReasonCode string `json:"reason_code"`
}

// CardArchivedPayload backs EventCardArchived.
type CardArchivedPayload struct {
	CardID              string `json:"card_id"`
	ReasonCode          string `json:"reason_code"`
	AttributedEpisodeID string `json:"attributed_episode_id,omitempty"`
}

// CardStatusChangedPayload backs EventCardStatusChanged and EventCardDeprecated.
type CardStatusChangedPayload struct {
	CardID     string `json:"card_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	ReasonCode string `json:"reason_code"`
}

// DisputeRecordedPayload backs EventDisputeRecorded.
type DisputeRecordedPayload struct {
	DisputeID     string  `json:"dispute_id"`
	CardID        string  `json:"card_id"`
	EvidenceRefID string  `json:"evidence_ref_id"`
	Weight        float64 `json:"weight"`
}

// RankedCardPayload is one row of a pack snapshot's ranked/selected lists.
type RankedCardPayload struct {
	CardID         string          `json:"card_id"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	TopicKey       string          `json:"topic_key"`
	Components     ScoreComponents `json:"components"`
	EvidenceRefIDs []string        `json:"evidence_ref_ids,omitempty"`
}

// ExposureRecordedPayload backs EventExposureRecorded.
type ExposureRecordedPayload struct {
	PackID        string              `json:"pack_id"`
	EpisodeID     string              `json:"episode_id"`
	QueryText     string              `json:"query_text"`
	Channel       string              `json:"channel"`
	PolicyVersion string              `json:"policy_version"`
	Ranked        []RankedCardPayload `json:"ranked"`
	Selected      []RankedCardPayload `json:"selected"`
}

// OutcomeRecordedPayload backs EventOutcomeRecorded.
type OutcomeRecordedPayload struct {
	OutcomeID      string   `json:"outcome_id"`
	EpisodeID      string   `json:"episode_id"`
	OutcomeType    string   `json:"outcome_type"`
	EvidenceRefIDs []string `json:"evidence_ref_ids"`
	MetadataJSON   string   `json:"metadata_json"`
	SeqNo          int64    `json:"seq_no"`
}
