// Package config loads reportbot configuration from a JSON or YAML file,
// fills unset fields from defaults and applies environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/paths"
)

// Config is the complete reportbot configuration.
type Config struct {
	Channels     ChannelsConfig     `json:"channels" yaml:"channels"`
	Conversation ConversationConfig `json:"conversation" yaml:"conversation"`
	Messaging    MessagingConfig    `json:"messaging" yaml:"messaging"`
	Report       ReportConfig       `json:"report" yaml:"report"`
	Access       AccessConfig       `json:"access" yaml:"access"`
	Zones        []Zone             `json:"zones" yaml:"zones"`
	Sessions     SessionsConfig     `json:"sessions" yaml:"sessions"`
	Consent      ConsentConfig      `json:"consent" yaml:"consent"`
	Store        StoreConfig        `json:"store" yaml:"store"`
	Dedupe       DedupeConfig       `json:"dedupe" yaml:"dedupe"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
}

type WhatsAppConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// DBPath holds the whatsmeow device store. Relative paths live under ~/.reportbot.
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

type ConversationConfig struct {
	IdleCloseMs   int      `json:"idleCloseMs" yaml:"idleCloseMs"`
	Greeting      string   `json:"greeting" yaml:"greeting"`
	MenuKeywords  []string `json:"menuKeywords" yaml:"menuKeywords"`
	AdminKeyword  string   `json:"adminKeyword" yaml:"adminKeyword"`
	CancelKeyword string   `json:"cancelKeyword" yaml:"cancelKeyword"`
}

// IdleClose is the inactivity window before a READY conversation is closed.
func (c ConversationConfig) IdleClose() time.Duration {
	return time.Duration(c.IdleCloseMs) * time.Millisecond
}

type MessagingConfig struct {
	// SendDelayMs is a pointer so an explicit 0 survives the defaults merge.
	SendDelayMs *int `json:"sendDelayMs" yaml:"sendDelayMs"`
	ChunkMaxLen int `json:"chunkMaxLen" yaml:"chunkMaxLen"`
}

func (c MessagingConfig) SendDelay() time.Duration {
	if c.SendDelayMs == nil {
		return 0
	}
	return time.Duration(*c.SendDelayMs) * time.Millisecond
}

type ReportConfig struct {
	Program    string   `json:"program" yaml:"program"`
	Script     string   `json:"script" yaml:"script"`
	Kind       string   `json:"kind" yaml:"kind"`
	TimeoutMs  int      `json:"timeoutMs" yaml:"timeoutMs"`
	Sheet      string   `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	MaxWorkers int      `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	Retries    int      `json:"retries,omitempty" yaml:"retries,omitempty"`
	ResolveDNS bool     `json:"resolveDns,omitempty" yaml:"resolveDns,omitempty"`
	ExtraArgs  []string `json:"extraArgs,omitempty" yaml:"extraArgs,omitempty"`
	// Marker is the success-envelope prefix preferred by the output recovery.
	Marker string `json:"marker" yaml:"marker"`
	// DiagnosticMax bounds the failure text surfaced from the child's output.
	DiagnosticMax int `json:"diagnosticMax" yaml:"diagnosticMax"`
}

func (c ReportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type AccessConfig struct {
	// Superadmins are bootstrapped as SUPERADMIN and entitled to every zone.
	Superadmins []string `json:"superadmins" yaml:"superadmins"`
	// ZoneAdmins maps a zone name to the addresses entitled to it.
	ZoneAdmins map[string][]string `json:"zoneAdmins" yaml:"zoneAdmins"`
}

// Zone is one entry of the report menu.
type Zone struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

type SessionsConfig struct {
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`
	TTLMinutes int `json:"ttlMinutes" yaml:"ttlMinutes"`
	// SweepSchedule is a cron spec for expiring idle sessions and dedupe entries.
	SweepSchedule string `json:"sweepSchedule" yaml:"sweepSchedule"`
}

func (c SessionsConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type ConsentConfig struct {
	LedgerPath string `json:"ledgerPath" yaml:"ledgerPath"`
	Version    string `json:"version" yaml:"version"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type DedupeConfig struct {
	TTLMinutes int `json:"ttlMinutes" yaml:"ttlMinutes"`
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`
}

func (c DedupeConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
}

// DefaultZones is the report menu shipped with the bot.
func DefaultZones() []Zone {
	return []Zone{
		{ID: "RP_PALMIRA", Name: "PALMIRA", Title: "📍 Palmira", Description: "Solo puntos Palmira"},
		{ID: "RP_AMAIME_PLACER", Name: "AMAIME Y EL PLACER", Title: "📍 Amaime y Placer", Description: "Zona Amaime + El Placer"},
		{ID: "RP_ROZO", Name: "ROZO", Title: "📍 Rozo", Description: "Solo puntos Rozo"},
		{ID: "RP_CANDELARIA", Name: "CANDELARIA", Title: "📍 Candelaria", Description: "Solo puntos Candelaria"},
		{ID: "RP_PRADERA", Name: "PRADERA", Title: "📍 Pradera", Description: "Solo puntos Pradera"},
		{ID: "RP_FLORIDA", Name: "FLORIDA", Title: "📍 Florida", Description: "Solo puntos Florida"},
		{ID: "RP_OCCIDENTE", Name: "OCCIDENTE", Title: "📍 Occidente", Description: "Zona Occidente"},
	}
}

func intPtr(n int) *int { return &n }

// Default returns the configuration used for every field the file leaves unset.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{DBPath: "whatsapp.db"},
		},
		Conversation: ConversationConfig{
			IdleCloseMs:   120000,
			Greeting:      "hola",
			MenuKeywords:  []string{"menu", "menú", "hola"},
			AdminKeyword:  "admti",
			CancelKeyword: "cancelar",
		},
		Messaging: MessagingConfig{
			SendDelayMs: intPtr(350),
			ChunkMaxLen: 3500,
		},
		Report: ReportConfig{
			Program:       "python3",
			Kind:          "standard",
			TimeoutMs:     180000,
			Marker:        `{"ok":`,
			DiagnosticMax: 1200,
		},
		Zones: DefaultZones(),
		Sessions: SessionsConfig{
			MaxEntries:    10000,
			TTLMinutes:    24 * 60,
			SweepSchedule: "@every 5m",
		},
		Consent: ConsentConfig{
			LedgerPath: "consent_log.jsonl",
			Version:    "2026-01",
		},
		Store: StoreConfig{Path: "reportbot.db"},
		Dedupe: DedupeConfig{
			TTLMinutes: 10,
			MaxEntries: 10000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
		},
	}
}

// Load reads the config file at path (or the discovered config when path is
// empty), merges defaults into unset fields, applies environment overrides
// and validates the result. A missing config file is not an error.
func Load(path string) (*Config, string, error) {
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, path, err
		}
	}

	// WithoutDereference keeps explicitly set zero values behind pointers.
	if err := mergo.Merge(cfg, Default(), mergo.WithoutDereference); err != nil {
		return nil, path, fmt.Errorf("merging defaults: %w", err)
	}

	ApplyEnv(cfg, os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("validating config: %w", err)
	}
	return cfg, path, nil
}

// decode parses data as JSON or YAML after ${VAR} expansion.
func decode(path string, data []byte, cfg *Config) error {
	expanded := []byte(expandEnvVars(string(data)))
	if isYAML(path) {
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(expanded, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or empty.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks value ranges. Returns the first problem found.
func (c *Config) Validate() error {
	if c.Conversation.IdleCloseMs <= 0 {
		return fmt.Errorf("conversation.idleCloseMs must be positive")
	}
	if c.Report.TimeoutMs <= 0 {
		return fmt.Errorf("report.timeoutMs must be positive")
	}
	if c.Messaging.SendDelayMs != nil && *c.Messaging.SendDelayMs < 0 {
		return fmt.Errorf("messaging.sendDelayMs must not be negative")
	}
	if c.Messaging.ChunkMaxLen < 500 {
		return fmt.Errorf("messaging.chunkMaxLen must be at least 500")
	}
	if c.Sessions.MaxEntries <= 0 {
		return fmt.Errorf("sessions.maxEntries must be positive")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.botToken is required when telegram is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	seen := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		if z.ID == "" || z.Name == "" {
			return fmt.Errorf("zones: every zone needs an id and a name")
		}
		if seen[z.ID] {
			return fmt.Errorf("zones: duplicate id %s", z.ID)
		}
		seen[z.ID] = true
	}
	return nil
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() *logging.LogConfig {
	out := logging.DefaultLogConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		out.Level = level
	}
	if c.Logging.File != "" {
		if p, err := paths.Resolve(c.Logging.File); err == nil {
			out.File = p
		}
	}
	out.MaxSizeMB = c.Logging.MaxSizeMB
	out.MaxBackups = c.Logging.MaxBackups
	return out
}
