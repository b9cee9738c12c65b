package pipeline

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// Cleaner normalizes string fields by inferred field class: prices, URLs,
// emails, phone numbers, and general text. Metadata keys pass through
// untouched.
type Cleaner struct{}

func NewCleaner() *Cleaner { return &Cleaner{} }

func (c *Cleaner) Name() string { return "cleaner" }

func (c *Cleaner) ProcessRow(row *types.Row) (int, error) {
	mods := 0
	for _, key := range row.Keys() {
		if types.IsMetadataKey(key) {
			continue
		}
		value, ok := row.Get(key)
		if !ok {
			continue
		}
		s, isString := value.(string)
		if !isString {
			continue
		}

		lower := strings.ToLower(key)
		var cleaned string
		switch {
		case strings.Contains(lower, "price") || strings.Contains(lower, "cost") || strings.Contains(s, "$"):
			cleaned = cleanPrice(s)
		case strings.Contains(lower, "url") || strings.Contains(lower, "link"):
			cleaned = cleanURL(s)
		case strings.Contains(lower, "email"):
			cleaned = cleanEmail(s)
		case strings.Contains(lower, "phone"):
			cleaned = cleanPhone(s)
		default:
			cleaned = cleanText(s)
		}

		if cleaned != s {
			row.Set(key, cleaned)
			mods++
		}
	}
	return mods, nil
}

var (
	controlCharRe  = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	nonPriceCharRe = regexp.MustCompile(`[^\d.,]`)
	edgeCommaRe    = regexp.MustCompile(`^,+|,+$`)
	multiSlashRe   = regexp.MustCompile(`//+`)
	emailExtractRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	nonPhoneCharRe = regexp.MustCompile(`[^\d+]`)
)

// cleanText decodes HTML entities, strips control characters, and
// collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(s)
	cleaned = controlCharRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// cleanPrice reduces a price string to a parseable decimal. Comma and
// period roles are decided positionally: whichever comes last is the
// decimal separator. Unparseable input is returned unchanged.
func cleanPrice(s string) string {
	if s == "" {
		return ""
	}

	cleaned := nonPriceCharRe.ReplaceAllString(s, "")
	cleaned = edgeCommaRe.ReplaceAllString(cleaned, "")

	// Keep only the last period as a decimal point.
	if n := strings.Count(cleaned, "."); n > 1 {
		last := strings.LastIndex(cleaned, ".")
		cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") < strings.LastIndex(cleaned, ".") {
			// Comma before period: thousands separator.
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			// European style: comma is the decimal separator.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	if _, err := strconv.ParseFloat(cleaned, 64); err != nil {
		return s
	}
	return cleaned
}

// cleanURL fixes protocol-relative URLs, collapses duplicate slashes in
// the path, and prepends https:// to bare hostnames. Site-relative paths
// pass through unchanged.
func cleanURL(s string) string {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return ""
	}

	if strings.HasPrefix(cleaned, "//") {
		cleaned = "https:" + cleaned
	}

	// Collapse duplicate slashes everywhere except after the scheme.
	if idx := strings.Index(cleaned, "://"); idx >= 0 {
		head, tail := cleaned[:idx+3], cleaned[idx+3:]
		cleaned = head + multiSlashRe.ReplaceAllString(tail, "/")
	} else {
		cleaned = multiSlashRe.ReplaceAllString(cleaned, "/")
	}

	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") && !strings.HasPrefix(cleaned, "/") {
		cleaned = "https://" + cleaned
	}
	return cleaned
}

// cleanEmail lowercases and extracts the first address-shaped token.
func cleanEmail(s string) string {
	if s == "" {
		return ""
	}
	cleaned := strings.ToLower(cleanText(s))
	if match := emailExtractRe.FindString(cleaned); match != "" {
		return match
	}
	return cleaned
}

// cleanPhone strips everything but digits and a leading plus, then
// normalizes bare US numbers to E.164.
func cleanPhone(s string) string {
	if s == "" {
		return ""
	}
	cleaned := nonPhoneCharRe.ReplaceAllString(s, "")
	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	default:
		return cleaned
	}
}
