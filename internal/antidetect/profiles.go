// Package antidetect implements the anti-detection layer: scraping
// profiles, fingerprint spoofing, human behavior simulation, challenge
// detection, and request-timing analysis.
package antidetect

import "time"

// Profile names.
const (
	ProfileConservative = "conservative"
	ProfileBalanced     = "balanced"
	ProfileAggressive   = "aggressive"
	ProfileStealth      = "stealth"
)

// Profile bundles the pacing and simulation settings for one scraping
// posture. Profiles are immutable; callers copy before tuning.
type Profile struct {
	Name         string
	RequestDelay time.Duration
	MaxRetries   int
	PageTimeout  time.Duration
	MaxBrowsers  int

	// Per-domain token-bucket refill rate.
	RequestsPerSecond float64

	SimulateMouse  bool
	SimulateScroll bool
	ReadingPauses  bool

	// Dwell bounds for stealth-grade runs; zero means no dwell.
	DwellMin time.Duration
	DwellMax time.Duration
}

var profiles = map[string]Profile{
	ProfileConservative: {
		Name:              ProfileConservative,
		RequestDelay:      5 * time.Second,
		MaxRetries:        5,
		PageTimeout:       60 * time.Second,
		MaxBrowsers:       1,
		RequestsPerSecond: 0.2,
		SimulateMouse:     true,
		SimulateScroll:    true,
		ReadingPauses:     true,
	},
	ProfileBalanced: {
		Name:              ProfileBalanced,
		RequestDelay:      2 * time.Second,
		MaxRetries:        3,
		PageTimeout:       30 * time.Second,
		MaxBrowsers:       2,
		RequestsPerSecond: 0.5,
		SimulateScroll:    true,
		ReadingPauses:     true,
	},
	ProfileAggressive: {
		Name:              ProfileAggressive,
		RequestDelay:      1 * time.Second,
		MaxRetries:        2,
		PageTimeout:       15 * time.Second,
		MaxBrowsers:       3,
		RequestsPerSecond: 1.0,
	},
	ProfileStealth: {
		Name:              ProfileStealth,
		RequestDelay:      8 * time.Second,
		MaxRetries:        7,
		PageTimeout:       90 * time.Second,
		MaxBrowsers:       1,
		RequestsPerSecond: 0.125,
		SimulateMouse:     true,
		SimulateScroll:    true,
		ReadingPauses:     true,
		DwellMin:          10 * time.Second,
		DwellMax:          30 * time.Second,
	},
}

// ChallengeBackoff is how long to wait before retrying a page that served
// an anti-bot challenge: twice the profile's request delay, with a floor
// so even aggressive runs give the interstitial time to clear.
func (p Profile) ChallengeBackoff() time.Duration {
	backoff := 2 * p.RequestDelay
	if backoff < 5*time.Second {
		backoff = 5 * time.Second
	}
	return backoff
}

// ProfileByName returns the named profile, falling back to balanced for
// unknown names.
func ProfileByName(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[ProfileBalanced]
}

// ProfileNames lists the known profile names.
func ProfileNames() []string {
	return []string{ProfileConservative, ProfileBalanced, ProfileAggressive, ProfileStealth}
}

// RecommendProfile picks a posture from observed site traits: protected
// sites get stealth, bot-sensitive sites conservative, everything else
// balanced.
func RecommendProfile(challengeSeen, rateLimited bool) string {
	switch {
	case challengeSeen:
		return ProfileStealth
	case rateLimited:
		return ProfileConservative
	default:
		return ProfileBalanced
	}
}
