package pipeline

import (
	"math"
	"testing"

	"github.com/iwsa-dev/iwsa/internal/types"
)

func TestValidatorAnnotatesCompleteRow(t *testing.T) {
	row := types.NewRow()
	row.Set("title", "Red Widget")
	row.Set("price", "19.99")
	row.Set("url", "https://shop.test/widget")

	v := NewValidator()
	if _, err := v.ProcessRow(row); err != nil {
		t.Fatalf("ProcessRow: %v", err)
	}

	score, ok := row.GetFloat(types.KeyValidationScore)
	if !ok || math.Abs(score-1.0) > 1e-9 {
		t.Fatalf("score = %v, want 1.0", score)
	}
	if valid, _ := row.Get(types.KeyIsValid); valid != true {
		t.Fatalf("is_valid = %v", valid)
	}
}

func TestValidatorEmptyRowIsError(t *testing.T) {
	row := types.NewRow()
	row.Set("title", "   ")
	row.Set(types.KeySourceURL, "https://shop.test")

	v := NewValidator()
	v.ProcessRow(row)

	if valid, _ := row.Get(types.KeyIsValid); valid != false {
		t.Fatal("row with no data should be invalid")
	}
	errs, _ := row.Get(types.KeyValidationErrors)
	list, ok := errs.([]string)
	if !ok || len(list) != 1 || list[0] != "no valid data fields found" {
		t.Fatalf("errors = %v", errs)
	}
}

func TestValidatorTypeMismatchesAreWarnings(t *testing.T) {
	row := types.NewRow()
	row.Set("email", "not-an-email")
	row.Set("link", "not a url")
	row.Set("phone", "123")

	v := NewValidator()
	v.ProcessRow(row)

	errs, _ := row.Get(types.KeyValidationErrors)
	if list, _ := errs.([]string); len(list) != 0 {
		t.Fatalf("type mismatches must not be errors: %v", list)
	}
	warnings, _ := row.Get(types.KeyValidationWarnings)
	if list, _ := warnings.([]string); len(list) != 3 {
		t.Fatalf("warnings = %v, want 3", warnings)
	}
	// Complete but warned: 1.0 - 3*0.1 = 0.7, still valid.
	score, _ := row.GetFloat(types.KeyValidationScore)
	if math.Abs(score-0.7) > 1e-9 {
		t.Fatalf("score = %v, want 0.7", score)
	}
	if valid, _ := row.Get(types.KeyIsValid); valid != true {
		t.Fatal("warned row above threshold should stay valid")
	}
}

func TestQualityScorePenaltyCaps(t *testing.T) {
	if got := qualityScore(10, 10, 8, 0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("warning cap: got %v, want 0.5", got)
	}
	if got := qualityScore(10, 10, 0, 5); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("error cap: got %v, want 0.2", got)
	}
	if got := qualityScore(0, 10, 8, 5); got != 0 {
		t.Errorf("clamp low: got %v, want 0", got)
	}
}

func TestDetectFieldType(t *testing.T) {
	cases := []struct {
		name, value, want string
	}{
		{"contact_email", "x", "email"},
		{"product_link", "x", "url"},
		{"mobile", "x", "phone"},
		{"total_amount", "x", "price"},
		{"posted", "x", "date"},
		{"note", "someone@example.com", "email"},
		{"note", "https://example.com", "url"},
		{"note", "$4.99", "price"},
		{"note", "plain words", "text"},
	}
	for _, tc := range cases {
		if got := detectFieldType(tc.name, tc.value); got != tc.want {
			t.Errorf("detectFieldType(%q, %q) = %q, want %q", tc.name, tc.value, got, tc.want)
		}
	}
}
