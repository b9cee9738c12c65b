package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// Text statistics only consider fields longer than this.
const minTextStatLength = 20

// Enricher derives additional fields from row content: timestamps, field
// counts, URL domains, numeric price forms, text statistics, data age,
// and the content hash used for deduplication.
type Enricher struct {
	now func() time.Time
}

func NewEnricher() *Enricher {
	return &Enricher{now: time.Now}
}

func (e *Enricher) Name() string { return "enricher" }

func (e *Enricher) ProcessRow(row *types.Row) (int, error) {
	mods := 0
	now := e.now().UTC()

	if !row.Has(types.KeyEnrichedAt) {
		row.Set(types.KeyEnrichedAt, now.Format(time.RFC3339))
		mods++
	}

	dataKeys := row.DataKeys()
	row.Set(types.KeyFieldCount, len(dataKeys))
	mods++

	totalChars, totalWords := 0, 0
	for _, key := range dataKeys {
		value := row.GetString(key)
		if value == "" {
			continue
		}

		lower := strings.ToLower(key)
		if strings.Contains(lower, "url") || strings.HasPrefix(value, "http") {
			if domain := extractDomain(value); domain != "" {
				row.Set(key+"_domain", domain)
				mods++
			}
		}
		if strings.Contains(lower, "price") {
			if numeric, ok := normalizePrice(value); ok {
				row.Set(key+"_numeric", numeric)
				mods++
			}
		}
		if len(value) > minTextStatLength {
			totalChars += len(value)
			totalWords += len(strings.Fields(value))
		}
	}

	if totalChars > 0 {
		row.Set(types.KeyTotalTextLength, totalChars)
		row.Set(types.KeyTotalWordCount, totalWords)
		mods += 2
	}

	row.Set(types.KeyDataAgeHours, dataAgeHours(row.GetString(types.KeyExtractedAt), now))
	row.Set(types.KeyContentHash, ContentHash(row))
	mods += 2

	return mods, nil
}

// ContentHash returns the MD5 digest of the row's sorted-key data JSON.
// Metadata keys are excluded so reprocessing never changes the hash.
func ContentHash(row *types.Row) string {
	sum := md5.Sum(row.StableDataJSON())
	return hex.EncodeToString(sum[:])
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

func normalizePrice(s string) (float64, bool) {
	cleaned := nonPriceCharRe.ReplaceAllString(s, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// dataAgeHours computes hours since extraction, rounded to two decimals.
// Unparseable timestamps yield zero.
func dataAgeHours(extractedAt string, now time.Time) float64 {
	if extractedAt == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, extractedAt)
	if err != nil {
		return 0
	}
	hours := now.Sub(t).Hours()
	if hours < 0 {
		return 0
	}
	return math.Round(hours*100) / 100
}
