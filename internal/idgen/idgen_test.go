package idgen_test

import (
	"strings"
	"testing"

	"github.com/memlogd/memlog/internal/idgen"
)

func TestCandidateIDDeterministicAndPrefixed(t *testing.T) {
	a := idgen.CandidateID("ep_1", 0, "preference", "retry network calls")
	b := idgen.CandidateID("ep_1", 0, "preference", "retry network calls")
	if a != b {
		t.Fatalf("expected deterministic candidate id, got %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "cand_") {
		t.Fatalf("expected cand_ prefix, got %q", a)
	}
	if len(a) != len("cand_")+16 {
		t.Fatalf("expected a 16-hex-char suffix, got %q (len %d)", a, len(a))
	}
}

func TestCandidateIDDiffersOnIndex(t *testing.T) {
	a := idgen.CandidateID("ep_1", 0, "preference", "retry network calls")
	b := idgen.CandidateID("ep_1", 1, "preference", "retry network calls")
	if a == b {
		t.Fatal("expected different candidate indices within the same episode to produce different ids")
	}
}

func TestCardIDDeterministicAndScoped(t *testing.T) {
	a := idgen.CardID("preference", "repo", "repo_1", "retry with backoff")
	b := idgen.CardID("preference", "repo", "repo_1", "retry with backoff")
	if a != b {
		t.Fatalf("expected deterministic card id, got %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "card_") {
		t.Fatalf("expected card_ prefix, got %q", a)
	}

	diffScope := idgen.CardID("preference", "repo", "repo_2", "retry with backoff")
	if a == diffScope {
		t.Fatal("expected different scope_id to produce a different card id")
	}
}

func TestDetJoinsPartsWithSeparator(t *testing.T) {
	a := idgen.Det("x", "p1", "p2")
	b := idgen.Det("x", "p1", "p2")
	if a != b {
		t.Fatalf("expected deterministic det id, got %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "x_") {
		t.Fatalf("expected x_ prefix, got %q", a)
	}

	// "ab|c" and "a|bc" must hash differently: Det must not be confusable by
	// concatenation without a separator.
	c := idgen.Det("x", "ab", "c")
	d := idgen.Det("x", "a", "bc")
	if c == d {
		t.Fatal("expected differently-split parts joined by a separator to hash differently")
	}
}

func TestExposureIDVariesByRank(t *testing.T) {
	a := idgen.ExposureID("pack_1", "card_1", 0)
	b := idgen.ExposureID("pack_1", "card_1", 1)
	if a == b {
		t.Fatal("expected different ranks to produce different exposure ids")
	}
	if !strings.HasPrefix(a, "exp_") {
		t.Fatalf("expected exp_ prefix, got %q", a)
	}
}

func TestDisputeIDDeterministic(t *testing.T) {
	a := idgen.DisputeID("card_1", "ev_1")
	b := idgen.DisputeID("card_1", "ev_1")
	if a != b {
		t.Fatalf("expected deterministic dispute id, got %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "disp_") {
		t.Fatalf("expected disp_ prefix, got %q", a)
	}
}

func TestOutcomeIDDerivesFromIdempotencyKeyHash(t *testing.T) {
	hash, err := idgen.OutcomeIdempotencyKey("ep_1", "accepted", []string{"ev_2", "ev_1"}, `{"note":"ok"}`)
	if err != nil {
		t.Fatalf("outcome idempotency key: %v", err)
	}
	id := idgen.OutcomeID(hash)
	if !strings.HasPrefix(id, "outc_") {
		t.Fatalf("expected outc_ prefix, got %q", id)
	}
	if id != "outc_"+hash[:16] {
		t.Fatalf("expected outcome id to be the first 16 chars of the idempotency key hash, got %q for hash %q", id, hash)
	}
}

func TestOutcomeIdempotencyKeyIgnoresEvidenceRefOrder(t *testing.T) {
	a, err := idgen.OutcomeIdempotencyKey("ep_1", "accepted", []string{"ev_1", "ev_2"}, `{}`)
	if err != nil {
		t.Fatalf("key a: %v", err)
	}
	b, err := idgen.OutcomeIdempotencyKey("ep_1", "accepted", []string{"ev_2", "ev_1"}, `{}`)
	if err != nil {
		t.Fatalf("key b: %v", err)
	}
	if a != b {
		t.Fatalf("expected evidence_ref_id order to be normalized before hashing, got %q vs %q", a, b)
	}
}

func TestOutcomeIdempotencyKeyDiffersOnType(t *testing.T) {
	a, err := idgen.OutcomeIdempotencyKey("ep_1", "accepted", []string{"ev_1"}, `{}`)
	if err != nil {
		t.Fatalf("key a: %v", err)
	}
	b, err := idgen.OutcomeIdempotencyKey("ep_1", "corrected", []string{"ev_1"}, `{}`)
	if err != nil {
		t.Fatalf("key b: %v", err)
	}
	if a == b {
		t.Fatal("expected different outcome types to produce different idempotency keys")
	}
}
