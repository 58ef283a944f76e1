// Package types defines the row-level data model shared by every memlog
// package: episodes, artifacts, evidence, events, cards and their derived
// projections.
package types

import "time"

// ScopeTier orders the breadth of a card or query scope: repo is narrowest,
// global is broadest.
type ScopeTier string

const (
	ScopeRepo   ScopeTier = "repo"
	ScopeDomain ScopeTier = "domain"
	ScopeGlobal ScopeTier = "global"
)

// Rank returns a tier's breadth ordering: smaller is narrower.
func (t ScopeTier) Rank() int {
	switch t {
	case ScopeRepo:
		return 0
	case ScopeDomain:
		return 1
	case ScopeGlobal:
		return 2
	default:
		return 0
	}
}

type ArtifactKind string

const (
	ArtifactToolOutput ArtifactKind = "tool_output"
	ArtifactDoc        ArtifactKind = "doc"
)

type RefKind string

const (
	RefUserSpan   RefKind = "user_span"
	RefToolOutput RefKind = "tool_output"
	RefDocSpan    RefKind = "doc_span"
)

// EventType is the closed set of events that may appear in the log.
type EventType string

const (
	EventEpisodeRecorded        EventType = "episode_recorded"
	EventArtifactRecorded       EventType = "artifact_recorded"
	EventEvidenceRefRecorded    EventType = "evidence_ref_recorded"
	EventConsolidationTriggered EventType = "consolidation_triggered"
	EventCandidateProposed      EventType = "candidate_proposed"
	EventCardAdmitted           EventType = "card_admitted"
	EventCardRejected           EventType = "card_rejected"
	EventCardMerged             EventType = "card_merged"
	EventCardSuperseded         EventType = "card_superseded"
	EventCardArchived           EventType = "card_archived"
	EventCardStatusChanged      EventType = "card_status_changed"
	EventCardDeprecated         EventType = "card_deprecated"
	EventDisputeRecorded        EventType = "dispute_recorded"
	EventExposureRecorded       EventType = "exposure_recorded"
	EventOutcomeRecorded        EventType = "outcome_recorded"
)

// CardKind is the closed set of distilled-knowledge categories.
type CardKind string

const (
	KindPreference     CardKind = "preference"
	KindConstraint     CardKind = "constraint"
	KindCommitment     CardKind = "commitment"
	KindFact           CardKind = "fact"
	KindTactic         CardKind = "tactic"
	KindNegativeResult CardKind = "negative_result"
)

// Normative reports whether k is a kind eligible for supersession by topic.
func (k CardKind) Normative() bool {
	switch k {
	case KindPreference, KindConstraint, KindCommitment:
		return true
	default:
		return false
	}
}

type CardStatus string

const (
	StatusActive       CardStatus = "active"
	StatusNeedsRecheck CardStatus = "needs_recheck"
	StatusDeprecated   CardStatus = "deprecated"
	StatusArchived     CardStatus = "archived"
)

// Channel identifies how a pack or exposure was produced.
type Channel string

const (
	ChannelAutoPack     Channel = "auto_pack"
	ChannelSearch       Channel = "search"
	ChannelExplicitRead Channel = "explicit_read"
	ChannelCheck        Channel = "check"
)

// OutcomeType is the closed set of terminal outcome signals.
type OutcomeType string

const (
	OutcomeToolSuccess          OutcomeType = "tool_success"
	OutcomeToolFailure          OutcomeType = "tool_failure"
	OutcomeUserConfirmedHelpful OutcomeType = "user_confirmed_helpful"
	OutcomeUserCorrected        OutcomeType = "user_corrected"
)

func (o OutcomeType) IsSuccess() bool {
	return o == OutcomeToolSuccess || o == OutcomeUserConfirmedHelpful
}

func (o OutcomeType) IsFailure() bool {
	return o == OutcomeToolFailure || o == OutcomeUserCorrected
}

// Episode is an immutable conversational turn pair plus its scoping metadata.
type Episode struct {
	EpisodeID      string
	UserText       string
	AssistantText  string
	ModelName      string
	ScopeTier      ScopeTier
	ScopeID        string
	MetadataJSON   string
	StartedAt      time.Time
	EndedAt        time.Time
	PayloadHash    string
	CreatedEventID int64
}

// Artifact is content-addressed binary/text material attached to an episode.
type Artifact struct {
	ArtifactID     string
	EpisodeID      string
	ArtifactKind   ArtifactKind
	Path           string
	ContentHash    string
	MimeType       string
	MetadataJSON   string
	CreatedEventID int64
}

// EvidenceRef anchors a card to a span of user text or artifact content.
type EvidenceRef struct {
	EvidenceRefID  string
	EpisodeID      string
	RefKind        RefKind
	ArtifactID     *string
	TargetID       string
	StartOffset    *int64
	EndOffset      *int64
	LineStart      *int64
	LineEnd        *int64
	ExcerptText    string
	RefHash        string
	CreatedAt      time.Time
	CreatedEventID int64
}

// Event is one element of the canonical append-only log.
type Event struct {
	EventID        int64
	EpisodeID      string
	SeqNo          int64
	EventType      EventType
	PayloadJSON    string
	PayloadHash    string
	IdempotencyKey string
	Producer       string
	RuleVersion    string
	CreatedAt      time.Time
}

// Card is a durable, distilled knowledge atom.
type Card struct {
	CardID           string
	Kind             CardKind
	Statement        string
	ScopeTier        ScopeTier
	ScopeID          string
	TopicKey         string
	Tags             []string
	Status           CardStatus
	SupersedesCardID *string
	CreatedEventID   int64
	UpdatedEventID   int64
	ArchivedAt       *time.Time
}

// ConsolidationDecision records one gate outcome for one candidate.
type ConsolidationDecision struct {
	DecisionID   int64 // unstable surrogate key, stripped from the digest
	EpisodeID    string
	CandidateID  string
	DecisionType EventType
	CardID       string
	ReasonCode   string
	DetailJSON   string
	EventID      int64
	CreatedAt    time.Time
}

// StatusHistoryEntry records one card status transition.
type StatusHistoryEntry struct {
	ID        int64
	CardID    string
	OldStatus CardStatus
	NewStatus CardStatus
	Reason    string
	EventID   int64
	CreatedAt time.Time
}

// CardEmbedding is a per-card pseudo-embedding keyed by model tag.
type CardEmbedding struct {
	CardID         string
	Model          string
	Dim            int
	Vector         []float64
	UpdatedEventID int64
}

// PackSnapshot is the deterministic record of one retrieval/packing call.
type PackSnapshot struct {
	PackID         string
	EpisodeID      string
	QueryText      string
	Channel        Channel
	PolicyVersion  string
	RankedJSON     string // top-100 ranked cards with score components
	SelectedJSON   string // selected cards with evidence IDs
	CreatedEventID int64
	CreatedAt      time.Time
}

// Exposure records that a card was shown in a pack at a rank.
type Exposure struct {
	ExposureID    string
	PackID        string
	CardID        string
	RankPosition  int
	ScoreTotal    float64
	Channel       Channel
	SourceEventID int64
}

// Dispute records one evidence-weighted challenge to a card.
type Dispute struct {
	DisputeID     string
	CardID        string
	EvidenceRefID string
	Weight        float64
	SourceEventID int64
	CreatedAt     time.Time
}

// Outcome is a terminal signal for an episode, optionally anchored to evidence.
type Outcome struct {
	OutcomeID      string
	EpisodeID      string
	OutcomeType    OutcomeType
	EvidenceRefIDs []string
	MetadataJSON   string
	SeqNo          int64
	SourceEventID  int64
	CreatedAt      time.Time
}

// UtilityStats is the recomputed-on-every-exposure/outcome utility projection.
type UtilityStats struct {
	CardID         string
	Wins           int
	Losses         int
	Reuse          int
	UpdatedEventID int64
}

// ScoreComponents are the per-card scoring signals computed during retrieval.
type ScoreComponents struct {
	Lexical   float64
	Semantic  float64
	Scope     float64
	KindPrior float64
	Truth     float64
	Utility   float64
	Recency   float64
	Total     float64
}

// RankedCard is one row of a pack's top-100 ranked list.
type RankedCard struct {
	CardID     string
	Kind       CardKind
	Status     CardStatus
	TopicKey   string
	Components ScoreComponents
}

// AppendResult is returned by the event log's Append call.
type AppendResult struct {
	EventID  int64
	SeqNo    int64
	Inserted bool
}
