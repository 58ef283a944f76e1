package sqlite

// schema is memlog's full schema, applied in one shot since schema version
// is 1 (spec.md §6). Grounded on the teacher's schema.go: CREATE TABLE IF
// NOT EXISTS throughout, explicit CHECK constraints on lifecycle columns,
// ON DELETE CASCADE foreign keys, and covering indexes named idx_<table>_<col>.
const schema = `
-- Episodes: immutable conversational turn pairs.
CREATE TABLE IF NOT EXISTS episodes (
    episode_id TEXT PRIMARY KEY,
    user_text TEXT NOT NULL,
    assistant_text TEXT NOT NULL DEFAULT '',
    model_name TEXT NOT NULL DEFAULT '',
    scope_tier TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    started_at DATETIME,
    ended_at DATETIME,
    payload_hash TEXT NOT NULL,
    created_event_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_episodes_scope ON episodes(scope_tier, scope_id);

-- Artifacts: content-addressed blobs attached to an episode.
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL,
    artifact_kind TEXT NOT NULL,
    path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    created_event_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (episode_id) REFERENCES episodes(episode_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_artifacts_episode ON artifacts(episode_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_content_hash ON artifacts(content_hash);

-- Evidence refs: pointers into episode/artifact text that anchor cards.
CREATE TABLE IF NOT EXISTS evidence_refs (
    evidence_ref_id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL,
    ref_kind TEXT NOT NULL,
    artifact_id TEXT,
    target_id TEXT NOT NULL DEFAULT '',
    start_offset INTEGER,
    end_offset INTEGER,
    line_start INTEGER,
    line_end INTEGER,
    excerpt_text TEXT NOT NULL CHECK(length(excerpt_text) <= 280),
    ref_hash TEXT NOT NULL,
    created_event_id INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (episode_id) REFERENCES episodes(episode_id) ON DELETE CASCADE,
    FOREIGN KEY (artifact_id) REFERENCES artifacts(artifact_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_evidence_refs_episode ON evidence_refs(episode_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evidence_refs_artifact ON evidence_refs(artifact_id);

-- Events: the canonical append-only log.
CREATE TABLE IF NOT EXISTS events (
    event_id INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id TEXT NOT NULL,
    seq_no INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    payload_hash TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    producer TEXT NOT NULL DEFAULT '',
    rule_version TEXT NOT NULL DEFAULT 'v1',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(episode_id, seq_no)
);

CREATE INDEX IF NOT EXISTS idx_events_episode ON events(episode_id, seq_no);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Cards: durable distilled knowledge atoms.
CREATE TABLE IF NOT EXISTS cards (
    card_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    statement TEXT NOT NULL CHECK(length(statement) <= 280),
    scope_tier TEXT NOT NULL,
    scope_id TEXT NOT NULL DEFAULT '',
    topic_key TEXT NOT NULL DEFAULT 'general',
    tags_json TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active',
    supersedes_card_id TEXT,
    created_event_id INTEGER NOT NULL,
    updated_event_id INTEGER NOT NULL,
    archived_at DATETIME,
    CHECK (
        (status = 'archived' AND archived_at IS NOT NULL) OR
        (status != 'archived' AND archived_at IS NULL) OR
        (status = 'archived')
    )
);

CREATE INDEX IF NOT EXISTS idx_cards_scope_kind_status ON cards(scope_tier, scope_id, kind, status);
CREATE INDEX IF NOT EXISTS idx_cards_topic ON cards(topic_key);
CREATE INDEX IF NOT EXISTS idx_cards_status ON cards(status);

-- Card <-> evidence link table (mirrors the teacher's labels edge table).
CREATE TABLE IF NOT EXISTS card_evidence (
    card_id TEXT NOT NULL,
    evidence_ref_id TEXT NOT NULL,
    PRIMARY KEY (card_id, evidence_ref_id),
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE,
    FOREIGN KEY (evidence_ref_id) REFERENCES evidence_refs(evidence_ref_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_card_evidence_evidence ON card_evidence(evidence_ref_id);

-- Consolidation decisions: one row per candidate gate outcome.
-- decision_id is the unstable surrogate key the projection digest strips.
CREATE TABLE IF NOT EXISTS consolidation_decisions (
    decision_id INTEGER PRIMARY KEY AUTOINCREMENT,
    episode_id TEXT NOT NULL,
    candidate_id TEXT NOT NULL,
    decision_type TEXT NOT NULL,
    card_id TEXT NOT NULL DEFAULT '',
    reason_code TEXT NOT NULL DEFAULT '',
    detail_json TEXT NOT NULL DEFAULT '{}',
    event_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_decisions_episode ON consolidation_decisions(episode_id);
CREATE INDEX IF NOT EXISTS idx_decisions_candidate ON consolidation_decisions(candidate_id);

-- Card status history.
CREATE TABLE IF NOT EXISTS card_status_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id TEXT NOT NULL,
    old_status TEXT NOT NULL DEFAULT '',
    new_status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    event_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_status_history_card ON card_status_history(card_id, created_at);

-- Per-card pseudo-embeddings.
CREATE TABLE IF NOT EXISTS card_embeddings (
    card_id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    dim INTEGER NOT NULL,
    vector_json TEXT NOT NULL,
    updated_event_id INTEGER NOT NULL,
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE
);

-- Full-text index over statement/topic_key/tags. Maintained by explicit
-- insert/delete from the reducer, not by SQL triggers, matching the
-- teacher's "derive from the handler" style.
CREATE VIRTUAL TABLE IF NOT EXISTS fts_cards USING fts5(
    card_id UNINDEXED,
    statement,
    topic_key,
    tags
);

-- Pack snapshots: top-100 ranked + selected, per retrieval call.
CREATE TABLE IF NOT EXISTS pack_snapshots (
    pack_id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL,
    query_text TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL,
    policy_version TEXT NOT NULL,
    ranked_json TEXT NOT NULL,
    selected_json TEXT NOT NULL,
    created_event_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pack_snapshots_episode ON pack_snapshots(episode_id, created_at DESC);

-- Exposures: one row per selected card per pack.
CREATE TABLE IF NOT EXISTS exposures (
    exposure_id TEXT PRIMARY KEY,
    pack_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    rank_position INTEGER NOT NULL,
    score_total REAL NOT NULL,
    channel TEXT NOT NULL,
    source_event_id INTEGER NOT NULL,
    FOREIGN KEY (pack_id) REFERENCES pack_snapshots(pack_id) ON DELETE CASCADE,
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_exposures_card ON exposures(card_id, source_event_id);
CREATE INDEX IF NOT EXISTS idx_exposures_pack ON exposures(pack_id);

-- Disputes: evidence-weighted challenges to a card.
CREATE TABLE IF NOT EXISTS disputes (
    dispute_id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    evidence_ref_id TEXT NOT NULL,
    weight REAL NOT NULL,
    source_event_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_disputes_card ON disputes(card_id);

-- Outcomes: terminal per-episode signals.
CREATE TABLE IF NOT EXISTS outcomes (
    outcome_id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL,
    outcome_type TEXT NOT NULL,
    evidence_ref_ids_json TEXT NOT NULL DEFAULT '[]',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    seq_no INTEGER NOT NULL,
    source_event_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (episode_id) REFERENCES episodes(episode_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_outcomes_episode ON outcomes(episode_id, seq_no);

-- Utility projection, recomputed wholesale on every exposure/outcome.
CREATE TABLE IF NOT EXISTS utility_stats (
    card_id TEXT PRIMARY KEY,
    wins INTEGER NOT NULL DEFAULT 0,
    losses INTEGER NOT NULL DEFAULT 0,
    reuse INTEGER NOT NULL DEFAULT 0,
    updated_event_id INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (card_id) REFERENCES cards(card_id) ON DELETE CASCADE
);

-- Per-episode consolidation ledger: counts by decision type + reason histogram.
CREATE TABLE IF NOT EXISTS episode_ledgers (
    episode_id TEXT PRIMARY KEY,
    counts_json TEXT NOT NULL DEFAULT '{}',
    reasons_json TEXT NOT NULL DEFAULT '{}',
    updated_event_id INTEGER NOT NULL DEFAULT 0
);

-- Config: user-facing settings (mirrors the teacher's config table).
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata: internal bookkeeping (mirrors the teacher's metadata table),
-- e.g. last-touched pack/episode pointers.
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
