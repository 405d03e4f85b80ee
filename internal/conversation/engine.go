// Package conversation drives each address through consent, the report menu
// and the admin workflow. Events for one address are handled one at a time;
// different addresses proceed concurrently.
package conversation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roelfdiedericks/reportbot/internal/access"
	"github.com/roelfdiedericks/reportbot/internal/consent"
	"github.com/roelfdiedericks/reportbot/internal/dedupe"
	"github.com/roelfdiedericks/reportbot/internal/idle"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/report"
	"github.com/roelfdiedericks/reportbot/internal/session"
)

// Sender is the part of the messaging router the engine talks through.
type Sender interface {
	SendText(ctx context.Context, addr messaging.Address, text string) messaging.Result
	SendButtons(ctx context.Context, addr messaging.Address, body string, buttons ...messaging.Button) messaging.Result
	SendList(ctx context.Context, addr messaging.Address, body, label string, sections ...messaging.Section) messaging.Result
}

// Reporter runs a report and delivers it to the requester.
type Reporter interface {
	Run(ctx context.Context, req report.Request, timeout time.Duration) (*report.Result, error)
	InFlight() int
}

// Auditor records inbound events. Implementations must not block.
type Auditor interface {
	Incoming(in messaging.Inbound)
}

// Zone is one report menu entry.
type Zone struct {
	ID          string
	Name        string
	Title       string
	Description string
}

// Config holds the tunables of the conversation flow.
type Config struct {
	IdleClose      time.Duration
	Greeting       string
	MenuKeywords   []string
	AdminKeyword   string
	CancelKeyword  string
	Zones          []Zone
	ReportKind     string
	ReportTimeout  time.Duration
	SendDelay      time.Duration
	ConsentVersion string
	Version        string
}

// Deps are the collaborators of the engine. Dedupe and Audit may be nil.
type Deps struct {
	Sender   Sender
	Gateway  access.Gateway
	Policy   *access.Policy
	Ledger   consent.Ledger
	Reports  Reporter
	Sessions *session.Store
	Locks    *session.Locker
	Dedupe   *dedupe.Cache
	Audit    Auditor
}

// Engine is the conversation state machine.
type Engine struct {
	cfg  Config
	deps Deps
	idle *idle.Supervisor

	greeting keywordSet
	menu     keywordSet
	admin    keywordSet
	cancel   keywordSet
	zones    map[string]Zone

	started time.Time
	now     func() time.Time

	mu       sync.Mutex
	queues   map[string][]queued
	stopping bool
	active   sync.WaitGroup
}

// New creates an engine and its idle supervisor.
func New(cfg Config, deps Deps) *Engine {
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(0, 0)
	}
	if deps.Locks == nil {
		deps.Locks = session.NewLocker()
	}
	if cfg.ReportKind == "" {
		cfg.ReportKind = "standard"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		greeting: newKeywordSet(cfg.Greeting),
		menu:     newKeywordSet(cfg.MenuKeywords...),
		admin:    newKeywordSet(cfg.AdminKeyword),
		cancel:   newKeywordSet(cfg.CancelKeyword),
		zones:    make(map[string]Zone, len(cfg.Zones)),
		queues:   make(map[string][]queued),
		started:  time.Now(),
		now:      time.Now,
	}
	for _, z := range cfg.Zones {
		e.zones[z.ID] = z
	}
	e.idle = idle.New(cfg.IdleClose, deps.Sessions, deps.Locks, e.onIdleClose)
	return e
}

// Stop refuses new events, cancels all idle timers and waits until queued
// and running events are handled or ctx ends.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.idle.Stop()

	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conversation: events still running (%d addresses queued): %w", e.Backlog(), ctx.Err())
	}
}

// Idle exposes the idle supervisor, for stats and tests.
func (e *Engine) Idle() *idle.Supervisor {
	return e.idle
}

// turn is the per-event context handed to the step handlers.
type turn struct {
	in   messaging.Inbound
	addr messaging.Address
	key  string
	role access.Role
	sess session.Session
}

func (t *turn) name() string {
	if t.sess.Name != "" {
		return t.sess.Name
	}
	if t.in.SenderName != "" {
		return t.in.SenderName
	}
	return defaultName
}

// Handle processes one inbound event to completion on the calling goroutine.
// It never panics. Channels use Enqueue instead.
func (e *Engine) Handle(ctx context.Context, in messaging.Inbound) {
	if !e.begin() {
		L_debug("conversation: stopping, event dropped", "from", in.Address)
		return
	}
	defer e.active.Done()
	e.handle(ctx, in)
}

// begin registers a running event unless the engine is stopping.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return false
	}
	e.active.Add(1)
	return true
}

func (e *Engine) handle(ctx context.Context, in messaging.Inbound) {
	if in.Address.IsZero() {
		L_debug("conversation: dropping event without address", "kind", in.Kind)
		return
	}
	key := in.Address.Key()

	defer func() {
		if p := recover(); p != nil {
			L_error("conversation: handler panicked", "from", key, "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if in.MessageID != "" && e.deps.Dedupe != nil && e.deps.Dedupe.Seen(key+":"+in.MessageID) {
		L_debug("conversation: duplicate message dropped", "from", key, "id", in.MessageID)
		return
	}
	if e.deps.Audit != nil {
		e.deps.Audit.Incoming(in)
	}

	unlock := e.deps.Locks.Lock(key)
	defer unlock()

	L_debug("conversation: event", "from", key, "kind", in.Kind, "content", in.Content())
	if err := e.handleLocked(ctx, in, key); err != nil {
		L_error("conversation: event failed", "from", key, "error", err)
	}
}

func (e *Engine) handleLocked(ctx context.Context, in messaging.Inbound, key string) error {
	t := &turn{in: in, addr: in.Address, key: key, sess: e.deps.Sessions.Get(key)}

	if t.sess.Name == "" {
		name := in.SenderName
		if name == "" {
			name = defaultName
		}
		if err := e.patch(t, session.Patch{}.WithName(name)); err != nil {
			return err
		}
	}

	role, err := e.deps.Gateway.LookupOrCreate(ctx, key, in.SenderName)
	if err != nil {
		L_warn("conversation: access lookup failed", "from", key, "error", err)
		e.text(ctx, t, textServiceUnavailable)
		return nil
	}
	t.role = role
	L_trace("conversation: role resolved", "from", key, "role", role)

	if role == access.RoleBlocked {
		L_debug("conversation: ignoring blocked address", "from", key)
		return nil
	}

	if t.sess.Step.IsBroadcast() {
		if role.Privileged() {
			if handled, err := e.handleBroadcastFlow(ctx, t); handled || err != nil {
				return err
			}
		} else {
			L_info("conversation: leaving broadcast flow, role no longer privileged", "from", key, "role", role)
			if err := e.exitBroadcast(t); err != nil {
				return err
			}
		}
	}

	if e.isAdminRequest(in) {
		if !role.Privileged() {
			L_warn("conversation: admin request from unprivileged address", "from", key, "role", role)
			e.text(ctx, t, textUnknownCommand)
			return nil
		}
		return e.handleAdmin(ctx, t)
	}

	if role == access.RolePending {
		e.text(ctx, t, textPendingApproval)
		return nil
	}

	if t.sess.Step == session.StepNew && t.sess.Consent != session.ConsentAccepted {
		accepted, err := e.deps.Ledger.HasAccepted(ctx, key)
		if err != nil {
			L_warn("conversation: consent ledger lookup failed", "from", key, "error", err)
		} else if accepted {
			L_debug("conversation: consent found in ledger", "from", key)
			if err := e.patch(t, session.Patch{}.WithConsent(session.ConsentAccepted).WithStep(session.StepReady)); err != nil {
				return err
			}
		}
	}

	return e.dispatch(ctx, t)
}

// patch applies p to the session of t and refreshes the snapshot.
func (e *Engine) patch(t *turn, p session.Patch) error {
	s, err := e.deps.Sessions.Patch(t.key, p)
	if err != nil {
		return fmt.Errorf("patch session %s: %w", t.key, err)
	}
	t.sess = s
	return nil
}

func (e *Engine) text(ctx context.Context, t *turn, body string) messaging.Result {
	return e.deps.Sender.SendText(ctx, t.addr, body)
}

// onIdleClose runs with the address lock held, after the supervisor closed
// the session.
func (e *Engine) onIdleClose(ctx context.Context, key string) {
	e.sendReopenPrompt(ctx, messaging.ParseAddress(key))
}

func (e *Engine) sendReopenPrompt(ctx context.Context, addr messaging.Address) {
	e.deps.Sender.SendButtons(ctx, addr, textReopenPrompt,
		messaging.Button{ID: ChoiceReopen, Title: "✅ Sí, abrir"},
		messaging.Button{ID: ChoiceClose, Title: "❌ No"},
	)
}
