// Package bot assembles the reportbot process: storage, access policy,
// conversation engine, report pipeline and the chat channels.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/reportbot/internal/access"
	"github.com/roelfdiedericks/reportbot/internal/audit"
	"github.com/roelfdiedericks/reportbot/internal/channels"
	"github.com/roelfdiedericks/reportbot/internal/channels/telegram"
	"github.com/roelfdiedericks/reportbot/internal/channels/whatsapp"
	"github.com/roelfdiedericks/reportbot/internal/config"
	"github.com/roelfdiedericks/reportbot/internal/consent"
	"github.com/roelfdiedericks/reportbot/internal/conversation"
	"github.com/roelfdiedericks/reportbot/internal/dedupe"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/paths"
	"github.com/roelfdiedericks/reportbot/internal/report"
	"github.com/roelfdiedericks/reportbot/internal/session"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

// shutdownGrace bounds how long Close waits for each kind of in-flight work.
const shutdownGrace = 10 * time.Second

// Bot is a fully wired reportbot process.
type Bot struct {
	cfg     *config.Config
	cfgPath string

	store    *store.Store
	policy   *access.Policy
	gateway  *access.SQLGateway
	ledger   *consent.FileLedger
	sessions *session.Store
	dedupe   *dedupe.Cache
	audit    *audit.Recorder
	router   *messaging.Router
	pipeline *report.Pipeline
	engine   *conversation.Engine
	channels *channels.Manager
	sched    *cron.Cron
}

// New opens the stores and wires every component. cfgPath is the file
// watched for allowlist changes; it may be empty.
func New(cfg *config.Config, cfgPath, version string) (*Bot, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	ledgerPath, err := paths.Resolve(cfg.Consent.LedgerPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to resolve consent ledger path: %w", err)
	}
	ledger, err := consent.NewFileLedger(ledgerPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	b := &Bot{
		cfg:      cfg,
		cfgPath:  cfgPath,
		store:    st,
		ledger:   ledger,
		policy:   access.NewPolicy(cfg.Access.Superadmins, cfg.Access.ZoneAdmins),
		sessions: session.NewStore(cfg.Sessions.MaxEntries, cfg.Sessions.TTL()),
		dedupe:   dedupe.New(cfg.Dedupe.TTL(), cfg.Dedupe.MaxEntries),
		router:   messaging.NewRouter(),
		sched:    cron.New(),
	}
	b.gateway = access.NewSQLGateway(st, b.policy)

	b.audit = audit.NewRecorder(st, 0)
	b.router.Observe(b.audit.Outgoing)

	b.pipeline = report.NewPipeline(NewRunner(cfg), b.router, st, report.Options{
		SendDelay:     cfg.Messaging.SendDelay(),
		ChunkMaxLen:   cfg.Messaging.ChunkMaxLen,
		Marker:        cfg.Report.Marker,
		DiagnosticMax: cfg.Report.DiagnosticMax,
	})

	b.engine = conversation.New(engineConfig(cfg, version), conversation.Deps{
		Sender:   b.router,
		Gateway:  b.gateway,
		Policy:   b.policy,
		Ledger:   b.ledger,
		Reports:  b.pipeline,
		Sessions: b.sessions,
		Locks:    session.NewLocker(),
		Dedupe:   b.dedupe,
		Audit:    b.audit,
	})

	b.channels = channels.NewManager(b.router, b.engine.Enqueue)
	addChannels(b.channels, cfg.Channels)

	if _, err := b.sched.AddFunc(cfg.Sessions.SweepSchedule, b.sweep); err != nil {
		b.Close()
		return nil, fmt.Errorf("invalid sessions.sweepSchedule %q: %w", cfg.Sessions.SweepSchedule, err)
	}

	L_info("bot: wired",
		"zones", len(cfg.Zones),
		"superadmins", len(cfg.Access.Superadmins),
		"channels", b.channels.Names(),
	)
	return b, nil
}

// OpenStore opens the database named by the config.
func OpenStore(cfg *config.Config) (*store.Store, error) {
	dbPath, err := paths.Resolve(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	return store.Open(dbPath)
}

// NewRunner builds the report program runner from the config.
func NewRunner(cfg *config.Config) *report.Runner {
	return report.NewRunner(report.RunnerConfig{
		Program:       cfg.Report.Program,
		Script:        cfg.Report.Script,
		Sheet:         cfg.Report.Sheet,
		MaxWorkers:    cfg.Report.MaxWorkers,
		Retries:       cfg.Report.Retries,
		ResolveDNS:    cfg.Report.ResolveDNS,
		ExtraArgs:     cfg.Report.ExtraArgs,
		DiagnosticMax: cfg.Report.DiagnosticMax,
	})
}

func engineConfig(cfg *config.Config, version string) conversation.Config {
	zones := make([]conversation.Zone, len(cfg.Zones))
	for i, z := range cfg.Zones {
		zones[i] = conversation.Zone{ID: z.ID, Name: z.Name, Title: z.Title, Description: z.Description}
	}
	return conversation.Config{
		IdleClose:      cfg.Conversation.IdleClose(),
		Greeting:       cfg.Conversation.Greeting,
		MenuKeywords:   cfg.Conversation.MenuKeywords,
		AdminKeyword:   cfg.Conversation.AdminKeyword,
		CancelKeyword:  cfg.Conversation.CancelKeyword,
		Zones:          zones,
		ReportKind:     cfg.Report.Kind,
		ReportTimeout:  cfg.Report.Timeout(),
		SendDelay:      cfg.Messaging.SendDelay(),
		ConsentVersion: cfg.Consent.Version,
		Version:        version,
	}
}

func addChannels(m *channels.Manager, cfg config.ChannelsConfig) {
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		tcfg := telegram.Config{BotToken: cfg.Telegram.BotToken}
		m.Add("telegram", func(h channels.InboundHandler) (channels.ManagedChannel, error) {
			return telegram.New(tcfg, h)
		})
	} else {
		L_info("telegram: disabled by configuration")
	}

	if cfg.WhatsApp.Enabled {
		wcfg := whatsapp.Config{DBPath: cfg.WhatsApp.DBPath}
		m.Add("whatsapp", func(h channels.InboundHandler) (channels.ManagedChannel, error) {
			return whatsapp.New(wcfg, h)
		})
	} else {
		L_info("whatsapp: disabled by configuration")
	}
}

// Router exposes the message router, for the CLI and tests.
func (b *Bot) Router() *messaging.Router {
	return b.router
}

// Engine exposes the conversation engine.
func (b *Bot) Engine() *conversation.Engine {
	return b.engine
}

// Channels exposes the channel manager.
func (b *Bot) Channels() *channels.Manager {
	return b.channels
}

// sweep drops idle sessions and expired dedupe entries.
func (b *Bot) sweep() {
	sessions := b.sessions.Sweep()
	ids := b.dedupe.Prune()
	if sessions > 0 || ids > 0 {
		L_debug("bot: housekeeping", "sessions", sessions, "messageIds", ids)
	}
}

// applyConfig takes the parts of a reloaded config that can change at runtime.
func (b *Bot) applyConfig(cfg *config.Config) {
	b.policy.Update(cfg.Access.Superadmins, cfg.Access.ZoneAdmins)
	if level, err := ParseLevel(cfg.Logging.Level); err == nil {
		SetLevel(level)
	}
	L_info("bot: access lists reloaded",
		"superadmins", len(cfg.Access.Superadmins),
		"zones", len(cfg.Access.ZoneAdmins),
	)
}

// Run starts the channels and background jobs and blocks until ctx is
// cancelled. It returns an error when no channel could be configured.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.channels.StartAll(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	b.sched.Start()
	g.Go(func() error {
		<-gctx.Done()
		<-b.sched.Stop().Done()
		return nil
	})

	if b.cfgPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, b.cfgPath, b.applyConfig); err != nil {
				L_warn("bot: config reload disabled", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		SetShuttingDown()
		L_info("bot: shutting down")
		b.channels.StopAll()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases everything New acquired. Call after Run returned. Events
// still being handled get shutdownGrace to finish before the store closes.
func (b *Bot) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := b.engine.Stop(ctx); err != nil {
		L_warn("bot: closing with events still running", "error", err)
	}
	b.audit.Close()

	done := make(chan struct{})
	go func() {
		b.gateway.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		L_warn("bot: gave up waiting for pending user updates")
	}
	return b.store.Close()
}
