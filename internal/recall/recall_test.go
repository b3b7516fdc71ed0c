package recall

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

func TestMapDistance(t *testing.T) {
	cases := map[string]qdrant.Distance{
		"cosine":    qdrant.Distance_Cosine,
		"":          qdrant.Distance_Cosine,
		"l2":        qdrant.Distance_Euclid,
		"euclidean": qdrant.Distance_Euclid,
		"ip":        qdrant.Distance_Dot,
		"dot":       qdrant.Distance_Dot,
		"manhattan": qdrant.Distance_Manhattan,
	}
	for in, want := range cases {
		if got := mapDistance(in); got != want {
			t.Errorf("mapDistance(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPointIDDeterministic(t *testing.T) {
	id1 := pointID("short_term_session1_ts1_user")
	id2 := pointID("short_term_session1_ts1_user")
	if id1 != id2 {
		t.Fatalf("expected deterministic point id, got %q vs %q", id1, id2)
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Fatalf("expected derived id to be a valid uuid: %v", err)
	}
}

func TestPointIDPassthroughForUUID(t *testing.T) {
	u := uuid.New().String()
	if got := pointID(u); got != u {
		t.Fatalf("expected passthrough for already-valid uuid, got %q", got)
	}
}

// requireQdrant skips unless ORIX_TEST_QDRANT_ADDR ("host:port") is set.
func requireQdrant(t *testing.T) *Index {
	addr := os.Getenv("ORIX_TEST_QDRANT_ADDR")
	if addr == "" {
		t.Skip("ORIX_TEST_QDRANT_ADDR not set; skipping qdrant-backed recall test")
	}
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		t.Fatalf("bad addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port: %v", err)
	}
	idx, err := New(context.Background(), host, port, "recall_test_collection", 4, "cosine")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return idx
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", errors.New("addr missing ':port'")
}

func TestUpsertThenQueryReturnsMetadata(t *testing.T) {
	idx := requireQdrant(t)
	rec := Record{
		ID:       "mem-1",
		Vector:   []float32{1, 0, 0, 0},
		Metadata: map[string]any{"type": "short_term", "sessionId": "s1", "content": "hello"},
	}
	if err := idx.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	matches, err := idx.Query(context.Background(), rec.Vector, 1, Filter{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "mem-1" {
		t.Fatalf("expected round-trip match, got %+v", matches)
	}
	if matches[0].Score < 0.99 {
		t.Fatalf("expected near-identity score for identical vector, got %f", matches[0].Score)
	}
}
