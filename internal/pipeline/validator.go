package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// Validator scores row quality and annotates each row with its score,
// validity flag, and the error/warning lists behind them. Rows are never
// dropped; downstream consumers filter on the annotations.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) Name() string { return "validator" }

func (v *Validator) ProcessRow(row *types.Row) (int, error) {
	var errs, warnings []string

	nonEmpty := 0
	dataKeys := row.DataKeys()
	for _, key := range dataKeys {
		value := strings.TrimSpace(row.GetString(key))
		if value == "" {
			// Numeric values stringify empty but still count as present.
			if _, ok := row.GetFloat(key); ok {
				nonEmpty++
			}
			continue
		}
		nonEmpty++

		switch detectFieldType(key, value) {
		case "email":
			if !emailRe.MatchString(value) {
				warnings = append(warnings, key+": invalid email format")
			}
		case "url":
			if !urlRe.MatchString(value) {
				warnings = append(warnings, key+": invalid URL format")
			}
		case "phone":
			if digits := nonDigitRe.ReplaceAllString(value, ""); len(digits) < 10 {
				warnings = append(warnings, key+": phone number too short")
			}
		case "price":
			if !validPrice(value) {
				warnings = append(warnings, key+": invalid price format")
			}
		case "date":
			if !validDate(value) {
				warnings = append(warnings, key+": unrecognized date format")
			}
		}
	}

	if len(dataKeys) == 0 || nonEmpty == 0 {
		errs = append(errs, "no valid data fields found")
	}

	score := qualityScore(nonEmpty, len(dataKeys), len(warnings), len(errs))
	isValid := len(errs) == 0 && score >= 0.5

	row.Set(types.KeyValidationScore, score)
	row.Set(types.KeyIsValid, isValid)
	row.Set(types.KeyValidationErrors, errs)
	row.Set(types.KeyValidationWarnings, warnings)
	return 4, nil
}

// qualityScore blends completeness with warning and error penalties,
// clamped to [0, 1].
func qualityScore(nonEmpty, total, warnings, errs int) float64 {
	denom := total
	if denom == 0 {
		denom = 1
	}
	completeness := float64(nonEmpty) / float64(denom)

	warningPenalty := float64(warnings) * 0.1
	if warningPenalty > 0.5 {
		warningPenalty = 0.5
	}
	errorPenalty := float64(errs) * 0.2
	if errorPenalty > 0.8 {
		errorPenalty = 0.8
	}

	score := completeness - warningPenalty - errorPenalty
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var (
	emailRe     = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	urlRe       = regexp.MustCompile(`^https?://[^\s<>"{}|\\^` + "`" + `\[\]]+$`)
	nonDigitRe  = regexp.MustCompile(`\D`)
	priceHintRe = regexp.MustCompile(`[$£€¥]|\d+\.\d{2}`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`\d{2}/\d{2}/\d{4}`),
		regexp.MustCompile(`\d{2}-\d{2}-\d{4}`),
	}
)

// detectFieldType infers a validation class from the field name first,
// then from the value shape.
func detectFieldType(name, value string) string {
	lower := strings.ToLower(name)
	valueLower := strings.ToLower(value)

	switch {
	case strings.Contains(lower, "email"):
		return "email"
	case strings.Contains(lower, "url") || strings.Contains(lower, "link") || strings.Contains(lower, "href"):
		return "url"
	case strings.Contains(lower, "phone") || strings.Contains(lower, "tel") || strings.Contains(lower, "mobile"):
		return "phone"
	case strings.Contains(lower, "price") || strings.Contains(lower, "cost") || strings.Contains(lower, "amount"):
		return "price"
	case strings.Contains(lower, "date") || strings.Contains(lower, "time") || strings.Contains(lower, "posted") || strings.Contains(lower, "created"):
		return "date"
	case strings.Contains(valueLower, "@"):
		return "email"
	case strings.HasPrefix(valueLower, "http://") || strings.HasPrefix(valueLower, "https://") || strings.HasPrefix(valueLower, "www."):
		return "url"
	case priceHintRe.MatchString(valueLower):
		return "price"
	default:
		return "text"
	}
}

func validPrice(value string) bool {
	cleaned := nonPriceCharRe.ReplaceAllString(value, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	return err == nil && f >= 0
}

func validDate(value string) bool {
	for _, re := range datePatterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
