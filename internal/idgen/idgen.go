// Package idgen derives the content-hash IDs that must round-trip under
// replay: card IDs, candidate IDs, exposure IDs, dispute IDs. Grounded on
// the teacher's hash-based issue-ID generator (internal/storage/sqlite/ids.go),
// adapted here from "random nonce until no collision" to pure content
// derivation, since every memlog ID must be reproducible from the log alone.
package idgen

import (
	"fmt"
	"strings"

	"github.com/memlogd/memlog/internal/hashutil"
)

// truncated returns the first n hex characters of the SHA-256 digest of key.
func truncated(key string, n int) string {
	full := hashutil.HashString(key)
	if n > len(full) {
		n = len(full)
	}
	return full[:n]
}

// CandidateID derives "cand_" + sha256("{episode}|{index}|{kind}|{statement}")[:16].
func CandidateID(episodeID string, index int, kind, normalizedLowerStatement string) string {
	key := fmt.Sprintf("%s|%d|%s|%s", episodeID, index, kind, normalizedLowerStatement)
	return "cand_" + truncated(key, 16)
}

// CardID derives "card_" + sha256("card|{kind}|{scope_tier}|{scope_id}|{statement}")[:16].
func CardID(kind, scopeTier, scopeID, normalizedLowerStatement string) string {
	key := fmt.Sprintf("card|%s|%s|%s|%s", kind, scopeTier, scopeID, normalizedLowerStatement)
	return "card_" + truncated(key, 16)
}

// Det derives a deterministic ID of the form "{prefix}_" + sha256(join(parts))[:16],
// used for exposure_id and dispute_id per §4.5/§4.6.
func Det(prefix string, parts ...string) string {
	key := strings.Join(parts, "|")
	return prefix + "_" + truncated(key, 16)
}

// ExposureID derives det("exp", pack_id, card_id, rank).
func ExposureID(packID, cardID string, rank int) string {
	return Det("exp", packID, cardID, fmt.Sprintf("%d", rank))
}

// DisputeID derives det("disp", card_id, evidence_ref_id).
func DisputeID(cardID, evidenceRefID string) string {
	return Det("disp", cardID, evidenceRefID)
}

// OutcomeID derives "outc_" + the first 16 hex characters of an already
// computed idempotency-key hash, so the outcome's identifier and its
// idempotency key are derived from the same canonical record without
// hashing it twice.
func OutcomeID(idempotencyKeyHash string) string {
	n := 16
	if len(idempotencyKeyHash) < n {
		n = len(idempotencyKeyHash)
	}
	return "outc_" + idempotencyKeyHash[:n]
}

// OutcomeIdempotencyKey hashes a canonical record of
// (episode_id, type, sorted evidence_ref_ids, metadata) for outcome
// idempotency per §4.6.
func OutcomeIdempotencyKey(episodeID, outcomeType string, evidenceRefIDs []string, metadataJSON string) (string, error) {
	sorted := hashutil.SortStrings(evidenceRefIDs)
	record := map[string]interface{}{
		"episode_id":       episodeID,
		"type":             outcomeType,
		"evidence_ref_ids": sorted,
		"metadata":         metadataJSON,
	}
	_, hash, err := hashutil.HashJSON(record)
	if err != nil {
		return "", err
	}
	return hash, nil
}
