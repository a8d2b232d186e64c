package extractor

import (
	"encoding/json"
	"fmt"
)

// wireFields is the closed set of JSON keys an entity may carry on the
// wire. Renamed variants (type, start, end) are a compatibility break
// and are rejected, not silently accepted.
var wireFields = map[string]bool{
	"entity_type":       true,
	"text":              true,
	"start_pos":         true,
	"end_pos":           true,
	"confidence":        true,
	"extraction_method": true,
	"metadata":          true,
	"created_at":        true,
}

// legacyFields maps known renamed keys to their canonical names so the
// rejection message tells the caller what to send instead.
var legacyFields = map[string]string{
	"type":   "entity_type",
	"start":  "start_pos",
	"end":    "end_pos",
	"method": "extraction_method",
}

// DecodeWire parses a JSON array of entities, enforcing the exact wire
// field set. Unknown keys, renamed keys and invariant violations all
// fail the whole batch.
func DecodeWire(data []byte) ([]Entity, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("entities must be a JSON array: %w", err)
	}

	entities := make([]Entity, 0, len(raw))
	for i, fields := range raw {
		for key := range fields {
			if wireFields[key] {
				continue
			}
			if canonical, ok := legacyFields[key]; ok {
				return nil, fmt.Errorf("entity %d: field %q is not accepted, use %q", i, key, canonical)
			}
			return nil, fmt.Errorf("entity %d: unknown field %q", i, key)
		}
		for _, required := range []string{"entity_type", "text", "start_pos", "end_pos"} {
			if _, ok := fields[required]; !ok {
				return nil, fmt.Errorf("entity %d: missing required field %q", i, required)
			}
		}

		// Re-marshal the vetted field map and decode into the struct so
		// per-field type errors surface with context.
		vetted, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		var e Entity
		if err := json.Unmarshal(vetted, &e); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}
