package config

import (
	"strconv"
	"strings"
	"unicode"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

// ZoneAdminEnvPrefix prefixes the per-zone allowlist variables,
// e.g. WPP_ADMIN_AMAIME_Y_EL_PLACER.
const ZoneAdminEnvPrefix = "WPP_ADMIN_"

// ZoneEnvKey returns the environment variable holding the allowlist of a zone.
func ZoneEnvKey(zone string) string {
	var b strings.Builder
	b.WriteString(ZoneAdminEnvPrefix)
	lastUnderscore := false
	for _, r := range strings.ToUpper(strings.TrimSpace(zone)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// ApplyEnv overrides cfg from environment entries in KEY=VALUE form.
// Empty values are ignored.
func ApplyEnv(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			env[k] = v
		}
	}

	setInt := func(key string, dst *int) {
		if v, ok := env[key]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				L_warn("config: ignoring non-numeric env override", "key", key, "value", v)
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := env[key]; ok {
			*dst = v
		}
	}

	setInt("IDLE_CLOSE_MS", &cfg.Conversation.IdleCloseMs)
	setInt("MONITOR_TIMEOUT_MS", &cfg.Report.TimeoutMs)
	if v, ok := env["WPP_SEND_DELAY_MS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Messaging.SendDelayMs = &n
		} else {
			L_warn("config: ignoring non-numeric env override", "key", "WPP_SEND_DELAY_MS", "value", v)
		}
	}
	setInt("WPP_CHUNK_MAXLEN", &cfg.Messaging.ChunkMaxLen)
	setString("PYTHON_BIN", &cfg.Report.Program)
	setString("MONITOR_SCRIPT", &cfg.Report.Script)
	setString("MONITOR_SHEET", &cfg.Report.Sheet)
	setString("REPORT_TYPE", &cfg.Report.Kind)
	setInt("MONITOR_MAX_WORKERS", &cfg.Report.MaxWorkers)
	setInt("MONITOR_RETRIES", &cfg.Report.Retries)
	setString("CONSENT_VERSION", &cfg.Consent.Version)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	if v, ok := env["MONITOR_RESOLVE_DNS"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			b = v == "1" || strings.EqualFold(v, "yes")
		}
		cfg.Report.ResolveDNS = b
	}
	if v, ok := env["MONITOR_EXTRA_ARGS"]; ok {
		cfg.Report.ExtraArgs = strings.Fields(v)
	}
	if v, ok := env["TELEGRAM_BOT_TOKEN"]; ok {
		cfg.Channels.Telegram.BotToken = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v, ok := env["WPP_SUPERADMINS"]; ok {
		cfg.Access.Superadmins = SplitCSV(v)
	}

	for _, z := range cfg.Zones {
		v, ok := env[ZoneEnvKey(z.Name)]
		if !ok {
			continue
		}
		if cfg.Access.ZoneAdmins == nil {
			cfg.Access.ZoneAdmins = make(map[string][]string)
		}
		cfg.Access.ZoneAdmins[z.Name] = SplitCSV(v)
	}
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
