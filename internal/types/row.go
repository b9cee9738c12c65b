package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Reserved metadata keys carried on extracted rows. All reserved keys begin
// with an underscore; pipeline stages preserve them verbatim.
const (
	KeySourceURL          = "_source_url"
	KeyExtractedAt        = "_extracted_at"
	KeyProcessedAt        = "_processed_at"
	KeyContentHash        = "_content_hash"
	KeyValidationScore    = "_validation_score"
	KeyIsValid            = "_is_valid"
	KeyValidationErrors   = "_validation_errors"
	KeyValidationWarnings = "_validation_warnings"
	KeyEnrichedAt         = "_enriched_at"
	KeyFieldCount         = "_field_count"
	KeyDataAgeHours       = "_data_age_hours"
	KeyTotalTextLength    = "_total_text_length"
	KeyTotalWordCount     = "_total_word_count"
)

// Row is a single extracted record: field name → primitive value, plus
// reserved underscore-prefixed metadata keys. Order preserves the field
// insertion sequence so exports keep extraction order.
type Row struct {
	Fields map[string]any
	Order  []string
}

// NewRow creates an empty Row.
func NewRow() *Row {
	return &Row{Fields: make(map[string]any)}
}

// Set sets a field value, recording insertion order for new keys.
func (r *Row) Set(key string, value any) {
	if _, ok := r.Fields[key]; !ok {
		r.Order = append(r.Order, key)
	}
	r.Fields[key] = value
}

// Get retrieves a field value.
func (r *Row) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// GetString retrieves a field value as a string.
func (r *Row) GetString(key string) string {
	v, ok := r.Fields[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// GetFloat retrieves a numeric field value as a float64.
func (r *Row) GetFloat(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Has returns true if the field exists.
func (r *Row) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// Delete removes a field.
func (r *Row) Delete(key string) {
	if _, ok := r.Fields[key]; !ok {
		return
	}
	delete(r.Fields, key)
	for i, k := range r.Order {
		if k == key {
			r.Order = append(r.Order[:i], r.Order[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (r *Row) Keys() []string {
	keys := make([]string, len(r.Order))
	copy(keys, r.Order)
	return keys
}

// IsMetadataKey reports whether a key is a reserved metadata key.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// DataKeys returns non-metadata field names in insertion order.
func (r *Row) DataKeys() []string {
	keys := make([]string, 0, len(r.Order))
	for _, k := range r.Order {
		if !IsMetadataKey(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// SourceURL returns the row's source URL metadata, if set.
func (r *Row) SourceURL() string {
	return r.GetString(KeySourceURL)
}

// Clone creates a deep-enough copy of the row. Field values are copied by
// assignment; rows hold primitives and small slices, never shared structs.
func (r *Row) Clone() *Row {
	clone := &Row{
		Fields: make(map[string]any, len(r.Fields)),
		Order:  make([]string, len(r.Order)),
	}
	copy(clone.Order, r.Order)
	for k, v := range r.Fields {
		clone.Fields[k] = v
	}
	return clone
}

// StableDataJSON renders the non-metadata fields as JSON with sorted keys.
// Equal content yields equal bytes, which makes content hashes deterministic.
func (r *Row) StableDataJSON() []byte {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if !IsMetadataKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(r.Fields[k])
		if err != nil {
			vb, _ = json.Marshal(stringify(r.Fields[k]))
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// ToFlatMap returns a flat string map suitable for CSV/spreadsheet export.
func (r *Row) ToFlatMap() map[string]string {
	flat := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		flat[k] = stringify(v)
	}
	return flat
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
