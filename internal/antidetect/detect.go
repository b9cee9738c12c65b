package antidetect

import "strings"

// ChallengeKind classifies what is blocking the page.
type ChallengeKind string

const (
	ChallengeNone      ChallengeKind = ""
	ChallengeCAPTCHA   ChallengeKind = "captcha"
	ChallengeJS        ChallengeKind = "js_challenge"
	ChallengeBlocked   ChallengeKind = "access_blocked"
	ChallengeRateLimit ChallengeKind = "rate_limited"
)

// Challenge is a detected anti-bot interstitial or block page.
type Challenge struct {
	Kind    ChallengeKind
	Marker  string // the phrase or element that triggered detection
	SiteKey string // captcha site key when present
}

// Detected reports whether any challenge was found.
func (c Challenge) Detected() bool { return c.Kind != ChallengeNone }

// captchaMarkers maps an HTML marker to the widget family it indicates.
var captchaMarkers = []string{
	"g-recaptcha",
	"recaptcha",
	"h-captcha",
	"hcaptcha",
	"cf-turnstile",
	"turnstile",
}

var jsChallengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"enable javascript and cookies",
	"ddos protection by",
	"cf-browser-verification",
}

var blockedMarkers = []string{
	"access denied",
	"you have been blocked",
	"forbidden",
	"unusual traffic",
	"automated requests",
}

var rateLimitMarkers = []string{
	"too many requests",
	"rate limit exceeded",
	"slow down",
}

// DetectChallenge inspects rendered HTML and the HTTP status for anti-bot
// interference. Checks run from most to least specific; CAPTCHA wins over
// a generic block page because it is actionable.
func DetectChallenge(html string, statusCode int) Challenge {
	lower := strings.ToLower(html)

	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return Challenge{
				Kind:    ChallengeCAPTCHA,
				Marker:  m,
				SiteKey: extractBetween(html, `data-sitekey="`, `"`),
			}
		}
	}
	for _, m := range jsChallengeMarkers {
		if strings.Contains(lower, m) {
			return Challenge{Kind: ChallengeJS, Marker: m}
		}
	}
	if statusCode == 429 {
		return Challenge{Kind: ChallengeRateLimit, Marker: "status 429"}
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return Challenge{Kind: ChallengeRateLimit, Marker: m}
		}
	}
	if statusCode == 403 {
		return Challenge{Kind: ChallengeBlocked, Marker: "status 403"}
	}
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return Challenge{Kind: ChallengeBlocked, Marker: m}
		}
	}
	return Challenge{}
}

// extractBetween extracts a substring between two delimiters.
func extractBetween(s, start, end string) string {
	idx := strings.Index(s, start)
	if idx < 0 {
		return ""
	}
	s = s[idx+len(start):]
	idx = strings.Index(s, end)
	if idx < 0 {
		return ""
	}
	return s[:idx]
}
