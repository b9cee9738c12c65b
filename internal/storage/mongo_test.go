package storage

import (
	"testing"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

func TestToDocumentLayout(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m := &Mongo{now: func() time.Time { return now }}

	row := types.NewRow()
	row.Set("title", "Red Widget")
	row.Set("price", "19.99")
	row.Set(types.KeySourceURL, "https://shop.test/products")
	row.Set(types.KeyExtractedAt, "2026-08-24T10:00:00Z")
	row.Set(types.KeyContentHash, "abc123")
	row.Set(types.KeyValidationScore, 0.9)
	row.Set(types.KeyIsValid, true)

	doc := m.toDocument(row)

	if doc["title"] != "Red Widget" || doc["price"] != "19.99" {
		t.Fatalf("data fields misplaced: %v", doc)
	}
	if doc[fieldSourceURL] != "https://shop.test/products" {
		t.Errorf("source url = %v", doc[fieldSourceURL])
	}
	if doc[fieldContentHash] != "abc123" {
		t.Errorf("content hash = %v", doc[fieldContentHash])
	}
	if doc[fieldProcessedAt] != now {
		t.Errorf("processed_at = %v", doc[fieldProcessedAt])
	}
	if doc["_meta_validation_score"] != 0.9 {
		t.Errorf("validation score not remapped: %v", doc)
	}
	if doc["_meta_is_valid"] != true {
		t.Errorf("is_valid not remapped: %v", doc)
	}
	if _, raw := doc["_validation_score"]; raw {
		t.Error("raw metadata key leaked into document")
	}
}

func TestToDocumentWithoutHash(t *testing.T) {
	m := &Mongo{now: time.Now}
	row := types.NewRow()
	row.Set("title", "Widget")

	doc := m.toDocument(row)
	if _, ok := doc[fieldContentHash]; ok {
		t.Fatal("hash should be absent when the row carries none")
	}
}
