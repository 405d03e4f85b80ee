package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/reportbot/internal/access"
	"github.com/roelfdiedericks/reportbot/internal/bot"
	"github.com/roelfdiedericks/reportbot/internal/channels/telegram"
	"github.com/roelfdiedericks/reportbot/internal/channels/whatsapp"
	"github.com/roelfdiedericks/reportbot/internal/config"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/messaging"
	"github.com/roelfdiedericks/reportbot/internal/paths"
	"github.com/roelfdiedericks/reportbot/internal/report"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// RunCmd starts the bot.
type RunCmd struct{}

func (c *RunCmd) Run(g *Globals) error {
	cfg, cfgPath, err := g.loadConfig()
	if err != nil {
		return err
	}
	L_info("reportbot starting", "version", version)

	b, err := bot.New(cfg, cfgPath, version)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	runErr := b.Run(ctx)
	if err := b.Close(); err != nil {
		L_warn("reportbot: close failed", "error", err)
	}
	if runErr == nil {
		L_info("reportbot stopped")
	}
	return runErr
}

type ConfigCmd struct {
	Init  ConfigInitCmd  `cmd:"" help:"Write a config file with the defaults."`
	Show  ConfigShowCmd  `cmd:"" help:"Print the effective config (file, defaults and environment)."`
	Check ConfigCheckCmd `cmd:"" help:"Validate the config and report where it was loaded from."`
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Where to write (default: ~/.reportbot/reportbot.json)." type:"path"`
	Force bool   `help:"Overwrite an existing file."`
}

func (c *ConfigInitCmd) Run() error {
	path := c.Path
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Channels.Telegram.BotToken != "" {
		cfg.Channels.Telegram.BotToken = "***"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

type ConfigCheckCmd struct{}

func (c *ConfigCheckCmd) Run(g *Globals) error {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		path = "(none, defaults and environment)"
	}
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Zones: %d, superadmins: %d\n", len(cfg.Zones), len(cfg.Access.Superadmins))
	fmt.Printf("Telegram: %v, WhatsApp: %v\n", cfg.Channels.Telegram.Enabled, cfg.Channels.WhatsApp.Enabled)
	fmt.Println("OK")
	return nil
}

type WhatsAppCmd struct {
	Link   WhatsAppLinkCmd   `cmd:"" help:"Pair the bot number by scanning a QR code."`
	Unlink WhatsAppUnlinkCmd `cmd:"" help:"Remove the paired device."`
	Status WhatsAppStatusCmd `cmd:"" help:"Show the pairing status."`
}

type WhatsAppLinkCmd struct{}

func (c *WhatsAppLinkCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return whatsapp.LinkDevice(ctx, cfg.Channels.WhatsApp.DBPath, os.Stdout)
}

type WhatsAppUnlinkCmd struct{}

func (c *WhatsAppUnlinkCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	return whatsapp.UnlinkDevice(context.Background(), cfg.Channels.WhatsApp.DBPath, os.Stdout)
}

type WhatsAppStatusCmd struct{}

func (c *WhatsAppStatusCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	status, err := whatsapp.DeviceStatus(context.Background(), cfg.Channels.WhatsApp.DBPath)
	if err != nil {
		return err
	}
	if !status.Paired() {
		fmt.Println("Status: Not paired")
		fmt.Println("Run 'reportbot whatsapp link' to pair a device.")
		return nil
	}
	fmt.Println("Status: Paired")
	for _, jid := range status.Devices {
		fmt.Printf("  JID: %s\n", jid)
	}
	return nil
}

type TelegramCmd struct {
	Check TelegramCheckCmd `cmd:"" help:"Validate the configured bot token."`
}

type TelegramCheckCmd struct{}

func (c *TelegramCheckCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	username, err := telegram.CheckToken(cfg.Channels.Telegram.BotToken)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to @%s\n", username)
	return nil
}

type UsersCmd struct {
	List    UsersListCmd    `cmd:"" help:"List known users."`
	SetRole UsersSetRoleCmd `cmd:"" name:"set-role" help:"Change the role of a user."`
}

type UsersListCmd struct {
	Role string `help:"Only users with this role (pending, VIEWER, ADMIN, SUPERADMIN, BLOCKED)."`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	roleStyles  = map[string]lipgloss.Style{
		string(access.RolePending):    cellStyle.Foreground(lipgloss.Color("214")),
		string(access.RoleSuperadmin): cellStyle.Foreground(lipgloss.Color("135")),
		string(access.RoleBlocked):    cellStyle.Foreground(lipgloss.Color("196")),
	}
)

func (c *UsersListCmd) Run(g *Globals) error {
	role := ""
	if c.Role != "" {
		r, ok := access.ParseRole(c.Role)
		if !ok {
			return fmt.Errorf("unknown role %q", c.Role)
		}
		role = string(r)
	}

	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	st, err := bot.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background(), role)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}
	fmt.Println(usersTable(users))
	fmt.Printf("%d user(s)\n", len(users))
	return nil
}

func usersTable(users []store.User) string {
	rows := make([][]string, len(users))
	for i, u := range users {
		rows[i] = []string{u.Address, u.DisplayName, u.Role, u.UpdatedAt.Format("2006-01-02 15:04")}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ADDRESS", "NAME", "ROLE", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(rows) {
				if s, ok := roleStyles[rows[row][2]]; ok {
					return s
				}
			}
			return cellStyle
		})
	return t.String()
}

type UsersSetRoleCmd struct {
	Address string `arg:"" help:"WhatsApp number or tg_<chat id>."`
	Role    string `arg:"" help:"VIEWER, ADMIN, SUPERADMIN or BLOCKED."`
}

func (c *UsersSetRoleCmd) Run(g *Globals) error {
	role, ok := access.ParseRole(strings.ToUpper(c.Role))
	if !ok || role == access.RolePending {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	address := messaging.NormalizeKey(c.Address)
	if address == "" {
		return fmt.Errorf("invalid address %q", c.Address)
	}

	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	st, err := bot.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	gw := access.NewSQLGateway(st, access.NewPolicy(cfg.Access.Superadmins, cfg.Access.ZoneAdmins))
	changed, err := gw.SetRole(context.Background(), address, role)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("no user %s (users are created when they first write to the bot)", address)
	}
	fmt.Printf("%s is now %s\n", address, role)
	return nil
}

type ReportCmd struct {
	Run ReportRunCmd `cmd:"" help:"Invoke the report program and print the recovered payload."`
}

type ReportRunCmd struct {
	Zone string `help:"Zone name; empty for the all-zones report."`
	Kind string `help:"Report kind (default: report.kind from the config)."`
	Raw  bool   `help:"Print the raw program output instead of the payload."`
}

func (c *ReportRunCmd) Run(g *Globals) error {
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	kind := c.Kind
	if kind == "" {
		kind = cfg.Report.Kind
	}

	ctx, stop := signalContext()
	defer stop()

	runner := bot.NewRunner(cfg)
	L_info("report: running", "cmd", runner.CommandLine(kind, c.Zone))
	out, err := runner.Execute(ctx, report.Invocation{Kind: kind, Zone: c.Zone, Timeout: cfg.Report.Timeout()})
	if err != nil {
		var failure *report.Failure
		if errors.As(err, &failure) {
			return fmt.Errorf("%s: %s", failure.Kind, failure.Diagnostic)
		}
		return err
	}

	if c.Raw {
		os.Stdout.Write(out.Stdout)
		return nil
	}

	raw, ok := report.ExtractJSON(string(out.Stdout), cfg.Report.Marker)
	if !ok {
		return fmt.Errorf("no JSON payload in %d bytes of output", len(out.Stdout))
	}
	payload, err := report.ParsePayload(raw)
	if err != nil {
		return err
	}

	summary := map[string]any{
		"ok":       payload.OK,
		"messages": payload.Texts(),
		"elapsed":  out.Elapsed.String(),
	}
	if img := payload.ImagePath(); img != "" {
		summary["image"] = filepath.Clean(img)
	}
	if len(payload.Summary) > 0 {
		summary["summary"] = payload.Summary
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
