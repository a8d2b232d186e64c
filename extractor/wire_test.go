package extractor

import (
	"strings"
	"testing"
)

func TestDecodeWire(t *testing.T) {
	data := []byte(`[
		{"entity_type": "party", "text": "Acme Corp.", "start_pos": 12, "end_pos": 22,
		 "confidence": 0.92, "extraction_method": "model",
		 "metadata": {"wave": "parties"}, "created_at": "2026-08-29T10:00:00Z"},
		{"entity_type": "date", "text": "2026-01-15", "start_pos": 40, "end_pos": 50}
	]`)

	entities, err := DecodeWire(data)
	if err != nil {
		t.Fatalf("DecodeWire: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	if entities[0].EntityType != TypeParty || entities[0].StartPos != 12 {
		t.Errorf("first entity = %+v", entities[0])
	}
	if got := entities[0].Metadata["wave"]; got != "parties" {
		t.Errorf("metadata wave = %v", got)
	}
	if entities[1].Confidence != 0 {
		t.Errorf("omitted confidence = %v, want 0", entities[1].Confidence)
	}
}

func TestDecodeWireRejections(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "not an array",
			data:    `{"entity_type": "party"}`,
			wantMsg: "JSON array",
		},
		{
			name:    "legacy type field",
			data:    `[{"type": "party", "text": "x", "start_pos": 0, "end_pos": 1}]`,
			wantMsg: `use "entity_type"`,
		},
		{
			name:    "legacy start field",
			data:    `[{"entity_type": "party", "text": "x", "start": 0, "end_pos": 1}]`,
			wantMsg: `use "start_pos"`,
		},
		{
			name:    "unknown field",
			data:    `[{"entity_type": "party", "text": "x", "start_pos": 0, "end_pos": 1, "score": 0.5}]`,
			wantMsg: `unknown field "score"`,
		},
		{
			name:    "missing text",
			data:    `[{"entity_type": "party", "start_pos": 0, "end_pos": 1}]`,
			wantMsg: `missing required field "text"`,
		},
		{
			name:    "inverted span",
			data:    `[{"entity_type": "party", "text": "x", "start_pos": 5, "end_pos": 3}]`,
			wantMsg: "invalid span",
		},
		{
			name:    "confidence out of range",
			data:    `[{"entity_type": "party", "text": "x", "start_pos": 0, "end_pos": 1, "confidence": 1.5}]`,
			wantMsg: "outside [0, 1]",
		},
		{
			name:    "wrong field type",
			data:    `[{"entity_type": "party", "text": "x", "start_pos": "zero", "end_pos": 1}]`,
			wantMsg: "entity 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWire([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDecodeWireFailsWholeBatch(t *testing.T) {
	// One bad entity poisons the batch; nothing is partially accepted.
	data := []byte(`[
		{"entity_type": "party", "text": "Acme", "start_pos": 0, "end_pos": 4},
		{"entity_type": "party", "text": "", "start_pos": 10, "end_pos": 14}
	]`)
	if _, err := DecodeWire(data); err == nil {
		t.Fatal("expected the whole batch to fail")
	}
}

func TestEntityValidate(t *testing.T) {
	good := Entity{EntityType: TypeParty, Text: "Acme", StartPos: 0, EndPos: 4, Confidence: 0.9}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid entity rejected: %v", err)
	}

	bad := good
	bad.StartPos = 4
	if err := bad.Validate(); err == nil {
		t.Error("empty span accepted")
	}
}

func TestEntityOverlaps(t *testing.T) {
	a := Entity{StartPos: 10, EndPos: 20}
	tests := []struct {
		start, end int
		want       bool
	}{
		{0, 10, false},  // touching on the left
		{20, 30, false}, // touching on the right
		{15, 25, true},
		{0, 11, true},
		{12, 18, true},
	}
	for _, tt := range tests {
		b := Entity{StartPos: tt.start, EndPos: tt.end}
		if got := a.Overlaps(b); got != tt.want {
			t.Errorf("overlap [%d,%d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
		if got := b.Overlaps(a); got != tt.want {
			t.Errorf("overlap is not symmetric for [%d,%d)", tt.start, tt.end)
		}
	}
}
