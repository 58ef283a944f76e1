package hashutil_test

import (
	"testing"

	"github.com/memlogd/memlog/internal/hashutil"
)

func TestCanonicalIsKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	ca, err := hashutil.Canonical(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := hashutil.Canonical(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected identical canonical bytes regardless of map build order, got %q vs %q", ca, cb)
	}
}

func TestHashJSONDeterministic(t *testing.T) {
	v := map[string]interface{}{"episode_id": "ep_1", "seq_no": 3}

	_, hashA, err := hashutil.HashJSON(v)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	_, hashB, err := hashutil.HashJSON(v)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected repeated hashing of the same value to be stable, got %q vs %q", hashA, hashB)
	}
	if len(hashA) != 64 {
		t.Fatalf("expected a 64-char lowercase hex sha256 digest, got %q (len %d)", hashA, len(hashA))
	}
}

func TestHashJSONDiffersOnDifferentValues(t *testing.T) {
	_, hashA, err := hashutil.HashJSON(map[string]string{"a": "1"})
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	_, hashB, err := hashutil.HashJSON(map[string]string{"a": "2"})
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA == hashB {
		t.Fatal("expected different values to hash differently")
	}
}

func TestSHA256HexMatchesKnownDigest(t *testing.T) {
	// the well-known SHA-256("abc") digest
	const knownABC = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	got := hashutil.SHA256Hex([]byte("abc"))
	if got != knownABC {
		t.Fatalf("expected sha256(%q) = %q, got %q", "abc", knownABC, got)
	}
}

func TestHashStringDeterministicAndDistinct(t *testing.T) {
	if hashutil.HashString("foo") != hashutil.HashString("foo") {
		t.Fatal("expected HashString to be deterministic")
	}
	if hashutil.HashString("foo") == hashutil.HashString("bar") {
		t.Fatal("expected different strings to hash differently")
	}
}

func TestTokenizeLowercasesStripsPunctuationAndDropsStopwords(t *testing.T) {
	got := hashutil.Tokenize("The Quick, Brown Fox! Is Running to the store.")
	want := []string{"quick", "brown", "fox", "running", "store"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNormalizeStatementCollapsesWhitespaceAndTruncates(t *testing.T) {
	got := hashutil.NormalizeStatement("too   many\n\nspaces", 100)
	if got != "too many spaces" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}

	long := "this statement is much longer than the configured maximum length"
	truncated := hashutil.NormalizeStatement(long, 20)
	if len([]rune(truncated)) != 20 {
		t.Fatalf("expected truncated length 20, got %d (%q)", len([]rune(truncated)), truncated)
	}
	if truncated[len(truncated)-3:] != "..." {
		t.Fatalf("expected truncation to end with ..., got %q", truncated)
	}
}

func TestJaccardIdenticalAndDisjointSets(t *testing.T) {
	same := hashutil.Jaccard("retry network calls", "retry network calls")
	if same != 1 {
		t.Fatalf("expected identical strings to have jaccard 1, got %v", same)
	}
	disjoint := hashutil.Jaccard("apples bananas", "xylophone zebra")
	if disjoint != 0 {
		t.Fatalf("expected disjoint token sets to have jaccard 0, got %v", disjoint)
	}
	bothEmpty := hashutil.Jaccard("the a an", "is are was")
	if bothEmpty != 0 {
		t.Fatalf("expected two all-stopword strings to have jaccard 0, got %v", bothEmpty)
	}
}

func TestCosineTextIdenticalIsOne(t *testing.T) {
	got := hashutil.CosineText("retry network calls with backoff", "retry network calls with backoff")
	if got < 0.999999 {
		t.Fatalf("expected cosine similarity of identical text to be ~1, got %v", got)
	}
}

func TestCosineTextUnrelatedIsZero(t *testing.T) {
	got := hashutil.CosineText("apples bananas cherries", "xylophone zebra yttrium")
	if got != 0 {
		t.Fatalf("expected unrelated token sets to have cosine 0, got %v", got)
	}
}

func TestPseudoEmbeddingIsUnitVectorAndDeterministic(t *testing.T) {
	a := hashutil.PseudoEmbedding("retry network calls", "model_v1")
	b := hashutil.PseudoEmbedding("retry network calls", "model_v1")
	if len(a) != hashutil.PseudoEmbeddingDim {
		t.Fatalf("expected vector of dim %d, got %d", hashutil.PseudoEmbeddingDim, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical (text, modelSalt) to produce identical vectors, diverged at %d", i)
		}
	}

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("expected a unit vector (norm ~1), got norm^2 = %v", norm)
	}
}

func TestPseudoEmbeddingDiffersBySalt(t *testing.T) {
	a := hashutil.PseudoEmbedding("retry network calls", "model_v1")
	b := hashutil.PseudoEmbedding("retry network calls", "model_v2")
	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Fatal("expected different modelSalt values to produce different pseudo-embeddings")
	}
}

func TestCosineVecSelfSimilarityIsOne(t *testing.T) {
	v := hashutil.PseudoEmbedding("exponential backoff retry", "model_v1")
	got := hashutil.CosineVec(v, v)
	if got < 0.999999 {
		t.Fatalf("expected self cosine similarity of ~1, got %v", got)
	}
}

func TestTopicKeyPrefersFirstLongToken(t *testing.T) {
	got := hashutil.TopicKey("we do retry network calls")
	if got != "retry" {
		t.Fatalf("expected first token of length >= 4, got %q", got)
	}
}

func TestTopicKeyFallsBackToGeneral(t *testing.T) {
	got := hashutil.TopicKey("a an the is")
	if got != "general" {
		t.Fatalf("expected fallback to general for an all-stopword statement, got %q", got)
	}
}

func TestSortStringsDoesNotMutateInput(t *testing.T) {
	in := []string{"c", "a", "b"}
	out := hashutil.SortStrings(in)
	if in[0] != "c" || in[1] != "a" || in[2] != "b" {
		t.Fatalf("expected SortStrings not to mutate its input, got %v", in)
	}
	if out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("expected sorted output, got %v", out)
	}
}
