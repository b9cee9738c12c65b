package types

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// MaxRunErrors caps bounded error lists; the most recent entries win.
const MaxRunErrors = 10

// SiteMetadata describes a target site as discovered during a run:
// reconnaissance signals plus what the generated strategy revealed.
type SiteMetadata struct {
	URL                string   `json:"url"`
	PaginationKind     string   `json:"pagination_kind"`
	DiscoveredFilters  []string `json:"discovered_filters,omitempty"`
	RecommendedProfile string   `json:"recommended_profile"`
}

// ExtractionResult is the output of one scrape run.
type ExtractionResult struct {
	Success        bool
	Rows           []*Row
	PagesProcessed int
	Errors         []string
	Metadata       map[string]any
	Elapsed        time.Duration
	Cancelled      bool
}

// AddError appends to the bounded error list, keeping the most recent entries.
func (r *ExtractionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	if len(r.Errors) > MaxRunErrors {
		r.Errors = r.Errors[len(r.Errors)-MaxRunErrors:]
	}
}

// TotalRows returns the number of extracted rows.
func (r *ExtractionResult) TotalRows() int { return len(r.Rows) }

// NewID generates a short unique identifier, optionally prefixed.
func NewID(prefix string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	id := hex.EncodeToString(b[:])
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
