package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/localcdp/browserd/internal/browser"
	"github.com/localcdp/browserd/internal/cdp"
	"github.com/localcdp/browserd/internal/collectors"
	"github.com/localcdp/browserd/internal/config"
	"github.com/localcdp/browserd/internal/logging"
	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/refs"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/store"
)

// idleTimeout is how long a session may sit without activity before the
// reaper retires it.
const idleTimeout = time.Hour

// Pool manages the set of live sessions and guarantees at-most-one
// creation per (kind, profile) under concurrent callers.
type Pool struct {
	cfg      *config.Config
	launcher *browser.Launcher
	refs     *refs.Registry
	baseDir  string
	log      *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]chan struct{}

	sem *semaphore.Weighted

	reapStop chan struct{}
	reapDone chan struct{}
}

// NewPool builds a pool over baseDir (the sessions/ directory) and starts
// the idle reaper.
func NewPool(cfg *config.Config, baseDir string) (*Pool, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	maxSessions := cfg.Server.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 5
	}
	p := &Pool{
		cfg:      cfg,
		launcher: browser.NewLauncher(cfg.Server.CDPPortRange.Start, cfg.Server.CDPPortRange.End),
		refs:     refs.NewRegistry(),
		baseDir:  baseDir,
		log:      logging.New("pool"),
		sessions: make(map[string]*Session),
		creating: make(map[string]chan struct{}),
		sem:      semaphore.NewWeighted(int64(maxSessions)),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	p.recoverOrphans()
	go p.reapLoop()
	return p, nil
}

// Refs exposes the pool's shared ref registry.
func (p *Pool) Refs() *refs.Registry { return p.refs }

// AcquireOptions select or create a session.
type AcquireOptions struct {
	Kind     model.SessionKind
	Profile  string
	Headless *bool
}

// Acquire returns an existing matching active session or creates one. For
// user-profile sessions the profile directory is the identity: concurrent
// callers for the same profile observe the same session, and the browser
// launches exactly once.
func (p *Pool) Acquire(ctx context.Context, opts AcquireOptions) (*Session, error) {
	key := creationKey(opts.Kind, opts.Profile)
	for {
		p.mu.Lock()
		if s := p.findMatchingLocked(opts.Kind, opts.Profile); s != nil {
			p.mu.Unlock()
			s.Touch()
			return s, nil
		}
		if ch, inFlight := p.creating[key]; inFlight {
			p.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, rpcerr.New(rpcerr.Timeout, "waiting for session creation")
			}
		}
		ch := make(chan struct{})
		p.creating[key] = ch
		p.mu.Unlock()

		s, err := p.create(ctx, opts)

		p.mu.Lock()
		delete(p.creating, key)
		close(ch)
		if err == nil {
			p.sessions[s.ID()] = s
		}
		p.mu.Unlock()

		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// findMatchingLocked returns an active session for the request: by
// profile for user-profile kind, most recently active for ephemeral.
func (p *Pool) findMatchingLocked(kind model.SessionKind, profile string) *Session {
	var best *Session
	for _, s := range p.sessions {
		m := s.Meta()
		if m.Status != model.StatusActive && m.Status != model.StatusBusy {
			continue
		}
		if m.Kind != kind {
			continue
		}
		if kind == model.KindUserProfile && m.Profile != profile {
			continue
		}
		if best == nil || s.LastActivity().After(best.LastActivity()) {
			best = s
		}
	}
	return best
}

// Lookup returns the session by id, nil when unknown.
func (p *Pool) Lookup(sessionID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[sessionID]
}

// List returns metadata snapshots for all known sessions.
func (p *Pool) List() []model.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Meta())
	}
	return out
}

// create runs the full creation protocol; partial resources are cleaned
// on failure and the error surfaces as SessionLaunchFailed.
func (p *Pool) create(ctx context.Context, opts AcquireOptions) (*Session, error) {
	if !p.sem.TryAcquire(1) {
		return nil, rpcerr.New(rpcerr.SessionLaunchFailed, "session limit reached (%d)", p.cfg.Server.MaxSessions)
	}
	s, err := p.launch(ctx, opts)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return s, nil
}

func (p *Pool) launch(ctx context.Context, opts AcquireOptions) (*Session, error) {
	sessionID := uuid.New().String()
	storageDir := filepath.Join(p.baseDir, sessionID)
	if err := os.MkdirAll(filepath.Join(storageDir, "screenshots"), 0o755); err != nil {
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "creating storage directory")
	}
	if err := os.MkdirAll(filepath.Join(storageDir, "recordings"), 0o755); err != nil {
		os.RemoveAll(storageDir)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "creating recordings directory")
	}

	headless := p.cfg.Browser.Headless
	if opts.Headless != nil {
		headless = *opts.Headless
	}
	userDataDir := ""
	if opts.Kind == model.KindUserProfile {
		userDataDir = opts.Profile
		if userDataDir == "" {
			userDataDir = p.cfg.Browser.UserDataDir
		}
	}

	launchCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Performance.NavigationTimeoutSeconds)*time.Second)
	defer cancel()

	inst, err := p.launcher.Launch(launchCtx, browser.LaunchOptions{
		SessionID:     sessionID,
		UserDataDir:   userDataDir,
		ExtensionPath: p.cfg.Browser.ExtensionPath,
		Headless:      headless,
		WindowWidth:   p.cfg.Browser.WindowWidth,
		WindowHeight:  p.cfg.Browser.WindowHeight,
		ChromePath:    p.cfg.Browser.ChromePath,
	})
	if err != nil {
		os.RemoveAll(storageDir)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "launching browser")
	}

	transport, err := cdp.Dial(launchCtx, inst.ConnectURL)
	if err != nil {
		inst.Stop()
		os.RemoveAll(storageDir)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "connecting to browser")
	}

	st, err := store.Open(launchCtx, filepath.Join(storageDir, "events.db"))
	if err != nil {
		transport.Close()
		inst.Stop()
		os.RemoveAll(storageDir)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "opening event store")
	}

	now := time.Now()
	s := &Session{
		holdsSlot: true,
		meta: model.Session{
			ID:             sessionID,
			Kind:           opts.Kind,
			Profile:        opts.Profile,
			Status:         model.StatusLaunching,
			CreatedAt:      now,
			LastActivityAt: now,
			CDPPort:        inst.Port,
			CDPEndpoint:    inst.ConnectURL,
			StorageDir:     storageDir,
			Headless:       headless,
			DialogBehavior: string(p.cfg.Dialog.Behavior),
		},
		Browser:   inst,
		Transport: transport,
		Store:     st,
		Refs:      p.refs,
	}

	if err := p.attachInitialPage(launchCtx, s); err != nil {
		p.teardown(s, true)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "discovering initial page")
	}

	sink := collectors.NewSink(st)
	dialog := collectors.NewDialog(sink, s, p.cfg.Dialog)
	trace := collectors.NewTrace(sink, browserCaller{s})
	s.Collectors = collectors.NewSet(sink, dialog, trace)
	if err := s.Collectors.Attach(launchCtx, transport, s.pageSessionID); err != nil {
		p.teardown(s, true)
		return nil, rpcerr.Wrap(rpcerr.SessionLaunchFailed, err, "attaching collectors")
	}

	s.setStatus(model.StatusActive)
	go p.watchTransport(s)

	if opts.Kind == model.KindUserProfile {
		if err := p.writeSessionPointer(s); err != nil {
			p.log.Printf("writing session pointer failed: %v", err)
		}
	}

	p.log.Printf("session %s created (kind=%s, port=%d, headless=%v)", sessionID[:8], opts.Kind, inst.Port, headless)
	return s, nil
}

// attachInitialPage finds the browser's first page target and attaches to
// it with a flat CDP session.
func (p *Pool) attachInitialPage(ctx context.Context, s *Session) error {
	res, err := s.Transport.Call(ctx, "Target.getTargets", map[string]any{}, "")
	if err != nil {
		return err
	}
	var targets struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(res, &targets); err != nil {
		return fmt.Errorf("decoding Target.getTargets: %w", err)
	}

	var pages []model.Page
	var firstPage string
	for _, t := range targets.TargetInfos {
		if t.Type != "page" {
			continue
		}
		pages = append(pages, model.Page{Index: len(pages), TargetID: t.TargetID, URL: t.URL, Active: len(pages) == 0})
		if firstPage == "" {
			firstPage = t.TargetID
		}
	}
	if firstPage == "" {
		return fmt.Errorf("browser has no page targets")
	}

	res, err = s.Transport.Call(ctx, "Target.attachToTarget", map[string]any{
		"targetId": firstPage,
		"flatten":  true,
	}, "")
	if err != nil {
		return err
	}
	var attach struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(res, &attach); err != nil {
		return fmt.Errorf("decoding Target.attachToTarget: %w", err)
	}
	s.setActivePage(pages, firstPage, attach.SessionID)
	return nil
}

// watchTransport marks the session detached when its CDP connection
// drops. A detached session is never silently recreated.
func (p *Pool) watchTransport(s *Session) {
	<-s.Transport.Done()
	if st := s.Status(); st == model.StatusActive || st == model.StatusBusy {
		p.log.Printf("session %s lost its CDP connection, marking detached", s.ID()[:8])
		s.setStatus(model.StatusDetached)
	}
}

// Release destroys the session: closes CDP, kills the browser, detaches
// collectors, closes the store, and removes the storage directory.
// Idempotent: releasing an unknown or already-destroyed session succeeds.
func (p *Pool) Release(sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()
	if !ok || s.Status() == model.StatusDestroyed {
		return nil
	}
	p.teardown(s, true)
	s.setStatus(model.StatusDestroyed)
	p.refs.Drop(sessionID)
	if s.holdsSlot {
		p.sem.Release(1)
	}
	p.log.Printf("session %s destroyed", sessionID)
	return nil
}

// teardown closes a session's resources; removeFiles also deletes its
// storage directory.
func (p *Pool) teardown(s *Session, removeFiles bool) {
	if s.Collectors != nil {
		s.Collectors.Close()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.Browser != nil {
		s.Browser.Stop()
	}
	if s.Store != nil {
		s.Store.Close()
	}
	if removeFiles {
		os.RemoveAll(s.Meta().StorageDir)
	}
}

// Reap retires sessions idle past the timeout.
func (p *Pool) Reap() {
	p.mu.Lock()
	var stale []string
	for id, s := range p.sessions {
		st := s.Status()
		idle := time.Since(s.LastActivity())
		if (st == model.StatusActive || st == model.StatusDetached) && idle > idleTimeout {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()
	for _, id := range stale {
		p.log.Printf("reaping idle session %s", id[:8])
		p.Release(id)
	}
}

func (p *Pool) reapLoop() {
	defer close(p.reapDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Reap()
		case <-p.reapStop:
			return
		}
	}
}

// Close shuts the pool down for daemon termination: stops the reaper and
// closes every session's resources without deleting storage directories,
// so stores remain queryable after restart.
func (p *Pool) Close() {
	close(p.reapStop)
	<-p.reapDone

	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	for _, s := range sessions {
		p.teardown(s, false)
		s.setStatus(model.StatusDetached)
	}
}

// recoverOrphans scans the sessions directory on startup and registers
// any leftover session directories as detached, making their stores
// queryable without recreating browsers.
func (p *Pool) recoverOrphans() {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dbPath := filepath.Join(p.baseDir, e.Name(), "events.db")
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}
		st, err := store.Open(context.Background(), dbPath)
		if err != nil {
			p.log.Printf("orphan session %s store unreadable: %v", e.Name(), err)
			continue
		}
		kind := model.KindEphemeral
		profile := ""
		if ptr, err := p.readSessionPointer(); err == nil && ptr.SessionID == e.Name() {
			kind = model.KindUserProfile
			profile = ptr.Profile
		}
		s := &Session{
			meta: model.Session{
				ID:         e.Name(),
				Kind:       kind,
				Profile:    profile,
				Status:     model.StatusDetached,
				StorageDir: filepath.Join(p.baseDir, e.Name()),
			},
			Store: st,
			Refs:  p.refs,
		}
		p.sessions[e.Name()] = s
		p.log.Printf("recovered orphan session %s as detached", e.Name())
	}
}

// sessionPointer is the session.toml shape pointing at the current
// user-profile session.
type sessionPointer struct {
	SessionID string `toml:"session_id"`
	Profile   string `toml:"profile"`
}

func (p *Pool) pointerPath() string {
	return filepath.Join(filepath.Dir(p.baseDir), "session.toml")
}

func (p *Pool) writeSessionPointer(s *Session) error {
	f, err := os.Create(p.pointerPath())
	if err != nil {
		return err
	}
	defer f.Close()
	m := s.Meta()
	return toml.NewEncoder(f).Encode(sessionPointer{SessionID: m.ID, Profile: m.Profile})
}

func (p *Pool) readSessionPointer() (*sessionPointer, error) {
	var ptr sessionPointer
	if _, err := toml.DecodeFile(p.pointerPath(), &ptr); err != nil {
		return nil, err
	}
	return &ptr, nil
}

func creationKey(kind model.SessionKind, profile string) string {
	if kind == model.KindUserProfile {
		return "user-profile:" + profile
	}
	return "ephemeral"
}
