//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianjwalters/entity-extraction-service-sub000/extractor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	// Migrations must be recorded.
	var version int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version < 2 {
		t.Errorf("schema version = %d, want >= 2", version)
	}
}

// ---------------------------------------------------------------------------
// Documents and runs
// ---------------------------------------------------------------------------

func TestUpsertDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocumentID:  "doc-001",
		Source:      "agreement.pdf",
		ContentHash: HashContent("first version"),
		CharCount:   13,
	}
	id1, err := s.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if id1 == 0 {
		t.Fatal("expected non-zero row id")
	}

	// Same document_id with new content updates in place.
	doc.ContentHash = HashContent("second version")
	doc.CharCount = 14
	if _, err := s.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("UpsertDocument update: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-001")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ContentHash != HashContent("second version") {
		t.Error("content hash not updated")
	}
	if got.CharCount != 14 {
		t.Errorf("CharCount = %d, want 14", got.CharCount)
	}
	if got.Source != "agreement.pdf" {
		t.Errorf("Source = %q", got.Source)
	}
}

func TestGetDocumentMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetDocument(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertDocument(ctx, Document{
		DocumentID: "doc-002", ContentHash: HashContent("x"), CharCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	run := Run{
		ID:         "01J0000000000000000000RUN1",
		DocumentID: "doc-002",
		Strategy:   "multi_wave",
		Waves:      `["parties","references","quantities"]`,
		Stats:      `{"units_completed":6}`,
		Status:     "complete",
		DurationMS: 4200,
	}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "multi_wave" || got.Status != "complete" || got.DurationMS != 4200 {
		t.Errorf("run round-trip mismatch: %+v", got)
	}
	if got.Stats != run.Stats {
		t.Errorf("Stats = %q, want %q", got.Stats, run.Stats)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertDocument(ctx, Document{
		DocumentID: "doc-003", ContentHash: HashContent("x"), CharCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"run-a", "run-b"} {
		if err := s.InsertRun(ctx, Run{
			ID: id, DocumentID: "doc-003", Strategy: "single_pass",
			Waves: `["full"]`, Status: "complete",
		}); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

func TestRunEntitiesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertDocument(ctx, Document{
		DocumentID: "doc-004", ContentHash: HashContent("x"), CharCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRun(ctx, Run{
		ID: "run-entities", DocumentID: "doc-004", Strategy: "multi_wave",
		Waves: `["parties"]`, Status: "complete",
	}); err != nil {
		t.Fatal(err)
	}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entities := []extractor.Entity{
		{
			EntityType:       extractor.TypeParty,
			Text:             "Acme Corp.",
			StartPos:         10,
			EndPos:           20,
			Confidence:       0.95,
			ExtractionMethod: "rules",
			Metadata: map[string]any{
				"wave":               "parties",
				"primary_context":    "party_identification",
				"context_confidence": 0.8,
			},
			CreatedAt: created,
		},
		{
			EntityType:       extractor.TypeMoney,
			Text:             "$500",
			StartPos:         2,
			EndPos:           6,
			Confidence:       0.9,
			ExtractionMethod: "model",
			CreatedAt:        created,
		},
	}

	if err := s.InsertRunEntities(ctx, "run-entities", entities); err != nil {
		t.Fatalf("InsertRunEntities: %v", err)
	}

	got, err := s.ListRunEntities(ctx, "run-entities")
	if err != nil {
		t.Fatalf("ListRunEntities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	// Document order: the amount at offset 2 precedes the party at 10.
	if got[0].EntityType != extractor.TypeMoney || got[1].EntityType != extractor.TypeParty {
		t.Errorf("order = %s, %s; want monetary_amount, party", got[0].EntityType, got[1].EntityType)
	}
	if got[1].Metadata["primary_context"] != "party_identification" {
		t.Errorf("metadata round-trip: %v", got[1].Metadata)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, created)
	}

	// Denormalized context column is queryable directly.
	var n int
	err = s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_entities WHERE primary_context = 'party_identification'").Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("primary_context rows = %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Context reference embeddings
// ---------------------------------------------------------------------------

func TestContextRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	if err := s.UpsertContextRef(ctx, "definition", "nomic-embed-text", vec); err != nil {
		t.Fatalf("UpsertContextRef: %v", err)
	}

	got, err := s.GetContextRef(ctx, "definition", "nomic-embed-text")
	if err != nil {
		t.Fatalf("GetContextRef: %v", err)
	}
	if len(got) != 4 || got[0] != 0.1 || got[3] != 0.4 {
		t.Errorf("embedding round-trip = %v", got)
	}

	// Re-upserting replaces rather than duplicates.
	if err := s.UpsertContextRef(ctx, "definition", "nomic-embed-text", []float32{1, 1, 1, 1}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if err := s.UpsertContextRef(ctx, "recital", "nomic-embed-text", vec); err != nil {
		t.Fatal(err)
	}

	refs, err := s.AllContextRefs(ctx, "nomic-embed-text")
	if err != nil {
		t.Fatalf("AllContextRefs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	if refs["definition"][0] != 1 {
		t.Error("re-upsert did not replace the embedding")
	}
}

func TestUpsertContextRefDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertContextRef(context.Background(), "definition", "m", []float32{1, 2})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestSerializeFloat32RoundTrip(t *testing.T) {
	in := []float32{-1.5, 0, 3.25}
	out := deserializeFloat32(serializeFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
