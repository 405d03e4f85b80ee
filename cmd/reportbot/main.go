// reportbot serves network monitoring reports to authorized users over
// WhatsApp and Telegram.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/reportbot/internal/config"
	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Config file (default: ./reportbot.json, then ~/.reportbot/reportbot.json)." short:"c" type:"path"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)." name:"log-level"`
}

// loadConfig reads the config and initializes logging from it.
func (g *Globals) loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.Load(g.Config)
	if err != nil {
		return nil, path, err
	}
	if g.LogLevel != "" {
		if _, err := ParseLevel(g.LogLevel); err != nil {
			return nil, path, err
		}
		cfg.Logging.Level = g.LogLevel
	}
	Init(cfg.LoggingConfig())
	if path == "" {
		L_debug("config: no file found, using defaults and environment")
	} else {
		L_debug("config: loaded", "path", path)
	}
	return cfg, path, nil
}

type CLI struct {
	Globals

	Run       RunCmd      `cmd:"" default:"1" help:"Start the bot (default)."`
	Version   VersionCmd  `cmd:"" help:"Print the version."`
	ConfigCmd ConfigCmd   `cmd:"" name:"config" help:"Manage the config file."`
	WhatsApp  WhatsAppCmd `cmd:"" name:"whatsapp" help:"Manage the linked WhatsApp device."`
	Telegram  TelegramCmd `cmd:"" name:"telegram" help:"Telegram bot helpers."`
	Users     UsersCmd    `cmd:"" help:"Inspect and change user roles."`
	Report    ReportCmd   `cmd:"" help:"Run the report program from the command line."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("reportbot %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("reportbot"),
		kong.Description("Network monitoring report bot for WhatsApp and Telegram."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	Close()
	ctx.FatalIfErrorf(err)
}
