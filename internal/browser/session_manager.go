// Package browser owns the Chrome connection and the per-session page
// handles: each session couples a Rod page with its state pipeline
// (registry, observation accumulator, state manager) and a console buffer.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"statenerd-mcp-server/internal/config"
	"statenerd-mcp-server/internal/console"
	"statenerd-mcp-server/internal/mangle"
	"statenerd-mcp-server/internal/state"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session describes the public metadata for a tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// sessionRecord is the full page handle: the Rod page plus everything whose
// lifecycle is tied to it. The state manager owns the element registry and
// the observation accumulator; both die with the record on close.
type sessionRecord struct {
	meta    Session
	page    *rod.Page
	state   *state.Manager
	console *console.Buffer
	bridge  *observerBridge
}

// SessionManager owns the detached Chrome instance and tracks active sessions.
type SessionManager struct {
	cfg        config.Config
	engine     EngineSink
	log        *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string // WebSocket URL for DevTools
}

// EngineSink defines the minimal interface we need from the logic layer.
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

func NewSessionManager(cfg config.Config, sink EngineSink, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		engine:   sink,
		log:      log,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		_, err := m.browser.Version()
		if err == nil {
			return nil // Browser is healthy, reuse it
		}
		// Browser is dead, clean up and reconnect
		m.log.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		// Clear all sessions since they're orphaned
		m.mu.Lock()
		m.sessions = make(map[string]*sessionRecord)
		m.mu.Unlock()
	}

	controlURL := m.cfg.Browser.DebuggerURL
	if controlURL == "" && len(m.cfg.Browser.Launch) > 0 {
		bin := m.cfg.Browser.Launch[0]
		launch := launcher.New().Bin(bin).Headless(m.cfg.Browser.IsHeadless())
		if len(m.cfg.Browser.Launch) > 1 {
			for _, rawFlag := range m.cfg.Browser.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(m.cfg.Browser.IsHeadless())
			if alt, altErr := fallback.Launch(); altErr == nil {
				controlURL = alt
			} else {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.log.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages concurrently, then the browser itself.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	records := make([]*sessionRecord, 0, len(m.sessions))
	for id, record := range m.sessions {
		records = append(records, record)
		delete(m.sessions, id)
	}
	browser := m.browser
	m.browser = nil
	m.controlURL = ""
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, record := range records {
		if record.page == nil {
			continue
		}
		page := record.page
		g.Go(func() error {
			_ = page.Close()
			return nil
		})
	}
	_ = g.Wait()

	var err error
	if browser != nil {
		err = browser.Close()
	}
	m.log.Info("browser shutdown complete")
	return err
}

// List returns lightweight metadata for all known sessions.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	return results
}

// CreateSession opens a new page (incognito context by default) and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	if m.browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	// Set viewport dimensions from config (default 1920x1080)
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Browser.GetViewportWidth(),
		Height:            m.cfg.Browser.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	// Best-effort load; failures surface through the first observe instead.
	_ = page.Timeout(m.cfg.Browser.NavigationTimeout()).Navigate(url)

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	record := m.newRecord(ctx, meta, page)

	m.mu.Lock()
	m.sessions[meta.ID] = record
	m.mu.Unlock()

	m.startEventStream(ctx, meta.ID, page)
	m.emitFacts(ctx, meta.ID, []mangle.Fact{{
		Predicate: "session_event",
		Args:      []interface{}{meta.ID, "created", url, time.Now().UnixMilli()},
		Timestamp: time.Now(),
	}})

	return &meta, nil
}

// Attach attempts to bind to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	if m.browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := m.browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}

	record := m.newRecord(ctx, meta, page)

	m.mu.Lock()
	m.sessions[meta.ID] = record
	m.mu.Unlock()

	m.startEventStream(ctx, meta.ID, page)
	m.emitFacts(ctx, meta.ID, []mangle.Fact{{
		Predicate: "session_event",
		Args:      []interface{}{meta.ID, "attached", targetID, time.Now().UnixMilli()},
		Timestamp: time.Now(),
	}})
	return &meta, nil
}

// newRecord builds the page handle: observer bridge, accumulator, registry,
// state manager, and console buffer, all scoped to this page. The observer
// install is best-effort; without it the session still works, minus the
// ephemeral observation window.
func (m *SessionManager) newRecord(ctx context.Context, meta Session, page *rod.Page) *sessionRecord {
	bridge := newObserverBridge(page, observerLimits(m.cfg.State))
	if _, err := bridge.Install(ctx); err != nil {
		m.log.Warn("observer install failed",
			zap.String("session_id", meta.ID), zap.Error(err))
	}

	mgrCfg := state.ManagerConfig{
		MaxActionables:     m.cfg.State.MaxActionables,
		AllowedQueryParams: m.cfg.State.AllowedQueryParams,
		ValueTruncateAt:    m.cfg.State.ValueTruncateAt,
	}
	return &sessionRecord{
		meta:    meta,
		page:    page,
		bridge:  bridge,
		state:   state.NewManager(meta.ID, state.NewRegistry(), state.NewAccumulator(bridge), mgrCfg, m.log),
		console: console.New(m.cfg.Console.GetBufferLimit(), m.cfg.Console.GetMinLevel()),
	}
}

// CloseSession closes one page and discards its handle. The registry and
// accumulator die here; eids from this session stop resolving.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	record, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	var err error
	if record.page != nil {
		err = record.page.Close()
	}
	m.emitFacts(ctx, sessionID, []mangle.Fact{{
		Predicate: "session_event",
		Args:      []interface{}{sessionID, "closed", record.meta.URL, time.Now().UnixMilli()},
		Timestamp: time.Now(),
	}})
	return err
}

// ForkSession clones cookies + storage from an existing session into a new incognito context.
func (m *SessionManager) ForkSession(ctx context.Context, sessionID, url string) (*Session, error) {
	srcPage, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	srcMeta, _ := m.GetSession(sessionID)

	// Snapshot cookies
	cookiesRes, err := proto.NetworkGetCookies{}.Call(srcPage)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	// Snapshot storage (best-effort)
	localJSON := snapshotStorage(srcPage, "localStorage")
	sessionJSON := snapshotStorage(srcPage, "sessionStorage")

	targetURL := url
	if targetURL == "" {
		targetURL = srcMeta.URL
		if targetURL == "" {
			targetURL = "about:blank"
		}
	}

	dest, err := m.CreateSession(ctx, targetURL)
	if err != nil {
		return nil, fmt.Errorf("create forked session: %w", err)
	}

	destPage, ok := m.Page(dest.ID)
	if !ok {
		return dest, nil
	}

	// Restore cookies into the new context.
	params := make([]*proto.NetworkCookieParam, 0, len(cookiesRes.Cookies))
	for _, c := range cookiesRes.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}
	if len(params) > 0 {
		_ = destPage.SetCookies(params)
	}

	// Restore local/session storage (best-effort).
	restoreStorage(destPage, localJSON, sessionJSON)
	m.UpdateMetadata(dest.ID, func(s Session) Session {
		s.Status = "forked"
		return s
	})

	return dest, nil
}

// Page returns the underlying Rod page for a session when present.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.page, true
}

// State returns the per-session state manager (registry + accumulator owner).
func (m *SessionManager) State(sessionID string) (*state.Manager, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.state == nil {
		return nil, false
	}
	return rec.state, true
}

// Console returns the per-session console buffer.
func (m *SessionManager) Console(sessionID string) (*console.Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.console == nil {
		return nil, false
	}
	return rec.console, true
}

// UpdateMetadata allows tools to refresh metadata (e.g., URL/title after navigation).
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// record returns the full handle; internal callers only.
func (m *SessionManager) record(sessionID string) (*sessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	return rec, ok
}

// emitFacts forwards facts to the engine sink, logging instead of failing:
// fact loss never breaks a session operation.
func (m *SessionManager) emitFacts(ctx context.Context, sessionID string, facts []mangle.Fact) {
	if m.engine == nil || len(facts) == 0 {
		return
	}
	if err := m.engine.AddFacts(ctx, facts); err != nil {
		m.log.Warn("fact emission failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// observerLimits converts config caps into the state package's limits type.
func observerLimits(s config.StateConfig) state.ObserverLimits {
	return state.ObserverLimits{
		BufferCap: s.ObserverBufferLimit,
		ShadowCap: s.ObserverShadowLimit,
		TextCap:   s.ObserverTextLimit,
	}
}

func snapshotStorage(page *rod.Page, store string) string {
	jsFunc := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) {
				out[key] = %s.getItem(key);
			}
			return JSON.stringify(out);
		} catch (e) {
			return "{}";
		}
	}`, store, store)

	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           jsFunc,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.String()
}

func restoreStorage(page *rod.Page, localJSON, sessionJSON string) {
	_, _ = page.Evaluate(&rod.EvalOptions{
		JS: `
		(local, session) => {
			try {
				const l = JSON.parse(local || "{}");
				Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
			try {
				const s = JSON.parse(session || "{}");
				Object.entries(s).forEach(([k, v]) => sessionStorage.setItem(k, v));
			} catch (e) {}
		}
		`,
		JSArgs:       []interface{}{localJSON, sessionJSON},
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
}
