// Package session keeps per-domain scraping state (cookies, web storage,
// identity, visit bookkeeping) across pages and browser recycles.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/iwsa-dev/iwsa/internal/antidetect"
	"github.com/iwsa-dev/iwsa/internal/types"
)

const (
	maxSessions    = 10
	maxSessionAge  = time.Hour
	maxSessionIdle = 30 * time.Minute
)

// Session is the persisted state for one domain.
type Session struct {
	ID          string
	Domain      string
	Fingerprint antidetect.Fingerprint

	Cookies        []*proto.NetworkCookieParam
	LocalStorage   map[string]string
	SessionStorage map[string]string
	CurrentURL     string

	CreatedAt    time.Time
	LastUsed     time.Time
	PagesVisited int
	Rotations    int
}

// Manager owns sessions keyed by domain, with age, idle, and count-based
// eviction.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int
	now      func() time.Time
	logger   *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   logger.With("component", "session_manager"),
	}
}

// GetOrCreate returns the live session for a domain, creating one when
// absent or expired. Creation may evict the least recently used session
// to stay under the cap.
func (m *Manager) GetOrCreate(domain string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[domain]; ok && !m.expiredLocked(s, now) {
		s.LastUsed = now
		return s
	}

	m.evictLocked(now)

	m.nextID++
	s := &Session{
		ID:          fmt.Sprintf("session_%d", m.nextID),
		Domain:      domain,
		Fingerprint: antidetect.NewFingerprint(),
		CreatedAt:   now,
		LastUsed:    now,
	}
	m.sessions[domain] = s
	m.logger.Info("session created", "session", s.ID, "domain", domain)
	return s
}

// Get returns the live session for a domain without creating one.
func (m *Manager) Get(domain string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[domain]
	if !ok || m.expiredLocked(s, m.now()) {
		return nil, types.ErrSessionNotFound
	}
	s.LastUsed = m.now()
	return s, nil
}

// PageState is the browser-visible state captured from a live page.
type PageState struct {
	Cookies        []*proto.NetworkCookieParam
	LocalStorage   map[string]string
	SessionStorage map[string]string
	URL            string
}

// Save captures page state into the domain session: cookies, web storage,
// the current URL, and a visit count bump. Storage reads that fail (e.g.
// on about:blank) are skipped, not fatal.
func (m *Manager) Save(domain string, page *rod.Page) error {
	cookies, err := page.Cookies(nil)
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	state := PageState{Cookies: toParams(cookies)}
	if local, err := readStorage(page, "localStorage"); err == nil {
		state.LocalStorage = local
	}
	if sess, err := readStorage(page, "sessionStorage"); err == nil {
		state.SessionStorage = sess
	}
	if info, err := page.Info(); err == nil && info != nil {
		state.URL = info.URL
	}
	m.SaveState(domain, state)
	return nil
}

// SaveState records captured state directly. Split from Save so state
// bookkeeping is testable without a live page.
func (m *Manager) SaveState(domain string, state PageState) {
	s := m.GetOrCreate(domain)
	m.mu.Lock()
	s.Cookies = state.Cookies
	if state.LocalStorage != nil {
		s.LocalStorage = state.LocalStorage
	}
	if state.SessionStorage != nil {
		s.SessionStorage = state.SessionStorage
	}
	if state.URL != "" {
		s.CurrentURL = state.URL
	}
	s.PagesVisited++
	s.LastUsed = m.now()
	m.mu.Unlock()
}

// SaveCookies records cookie state only.
func (m *Manager) SaveCookies(domain string, cookies []*proto.NetworkCookieParam) {
	m.SaveState(domain, PageState{Cookies: cookies})
}

// Restore applies the domain session's cookies to a fresh page. Cookies
// can be set before navigation; web storage cannot, see RestoreState.
func (m *Manager) Restore(domain string, page *rod.Page) error {
	s, err := m.Get(domain)
	if err != nil {
		return err
	}
	if len(s.Cookies) == 0 {
		return nil
	}
	if err := page.SetCookies(s.Cookies); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// RestoreState replays the session's web storage onto a page. Storage
// writes need the page's origin, so callers run this after navigating
// to the domain.
func (m *Manager) RestoreState(domain string, page *rod.Page) error {
	s, err := m.Get(domain)
	if err != nil {
		return err
	}
	if err := writeStorage(page, "localStorage", s.LocalStorage); err != nil {
		return fmt.Errorf("restore localStorage: %w", err)
	}
	if err := writeStorage(page, "sessionStorage", s.SessionStorage); err != nil {
		return fmt.Errorf("restore sessionStorage: %w", err)
	}
	return nil
}

const storageDumpJS = `(kind) => {
	const store = window[kind];
	const out = {};
	for (let i = 0; i < store.length; i++) {
		const key = store.key(i);
		out[key] = store.getItem(key);
	}
	return out;
}`

const storageWriteJS = `(kind, entries) => {
	const store = window[kind];
	for (const [key, value] of Object.entries(entries)) {
		store.setItem(key, value);
	}
}`

func readStorage(page *rod.Page, kind string) (map[string]string, error) {
	obj, err := page.Eval(storageDumpJS, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for key, value := range obj.Value.Map() {
		out[key] = value.Str()
	}
	return out, nil
}

func writeStorage(page *rod.Page, kind string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := page.Eval(storageWriteJS, kind, entries)
	return err
}

// Rotate replaces the domain session with a fresh identity. Only cookies
// a browser script could read cross the rotation; HTTP-only cookies stay
// behind so the new identity does not inherit server-side session pins.
func (m *Manager) Rotate(domain string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.sessions[domain]
	now := m.now()

	m.nextID++
	fresh := &Session{
		ID:          fmt.Sprintf("session_%d", m.nextID),
		Domain:      domain,
		Fingerprint: antidetect.NewFingerprint(),
		CreatedAt:   now,
		LastUsed:    now,
	}
	if old != nil {
		fresh.Rotations = old.Rotations + 1
		for _, c := range old.Cookies {
			if c.HTTPOnly {
				continue
			}
			fresh.Cookies = append(fresh.Cookies, c)
		}
	}
	m.sessions[domain] = fresh
	m.logger.Info("session rotated", "domain", domain, "session", fresh.ID, "carried_cookies", len(fresh.Cookies))
	return fresh
}

// Cleanup drops expired sessions and returns how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for domain, s := range m.sessions {
		if m.expiredLocked(s, now) {
			delete(m.sessions, domain)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("sessions cleaned up", "removed", removed)
	}
	return removed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) expiredLocked(s *Session, now time.Time) bool {
	return now.Sub(s.CreatedAt) > maxSessionAge || now.Sub(s.LastUsed) > maxSessionIdle
}

// evictLocked removes expired sessions, then the least recently used one
// while over the cap.
func (m *Manager) evictLocked(now time.Time) {
	for domain, s := range m.sessions {
		if m.expiredLocked(s, now) {
			delete(m.sessions, domain)
		}
	}
	for len(m.sessions) >= maxSessions {
		var lruDomain string
		var lru *Session
		for domain, s := range m.sessions {
			if lru == nil || s.LastUsed.Before(lru.LastUsed) {
				lruDomain, lru = domain, s
			}
		}
		delete(m.sessions, lruDomain)
		m.logger.Debug("session evicted", "domain", lruDomain, "session", lru.ID)
	}
}

func toParams(cookies []*proto.NetworkCookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
			Expires:  c.Expires,
		})
	}
	return params
}
