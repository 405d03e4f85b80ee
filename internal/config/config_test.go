package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportbot.json")
	writeFile(t, path, `{
		"conversation": {"idleCloseMs": 60000},
		"access": {"superadmins": ["573001110001"]}
	}`)

	cfg, got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	assert.Equal(t, 60000, cfg.Conversation.IdleCloseMs)
	assert.Equal(t, "admti", cfg.Conversation.AdminKeyword)
	assert.Equal(t, []string{"573001110001"}, cfg.Access.Superadmins)
	assert.Equal(t, 3500, cfg.Messaging.ChunkMaxLen)
	assert.Equal(t, 350*time.Millisecond, cfg.Messaging.SendDelay())
	assert.Equal(t, 180*time.Second, cfg.Report.Timeout())
	assert.Len(t, cfg.Zones, len(DefaultZones()))
}

func TestLoadKeepsExplicitZeroSendDelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportbot.json")
	writeFile(t, path, `{"messaging": {"sendDelayMs": 0}}`)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Messaging.SendDelayMs)
	assert.Equal(t, 0, *cfg.Messaging.SendDelayMs)
	assert.Equal(t, time.Duration(0), cfg.Messaging.SendDelay())
	assert.Equal(t, 3500, cfg.Messaging.ChunkMaxLen)
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("REPORTBOT_TEST_TOKEN", "123:abc")
	path := filepath.Join(t.TempDir(), "reportbot.yaml")
	writeFile(t, path, `
channels:
  telegram:
    enabled: true
    botToken: ${REPORTBOT_TEST_TOKEN}
zones:
  - id: RP_NORTE
    name: NORTE
    title: Norte
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Channels.Telegram.BotToken)
	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, "NORTE", cfg.Zones[0].Name)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("REPORTBOT_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, path, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "python3", cfg.Report.Program)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportbot.json")
	writeFile(t, path, `{"messaging": {"chunkMaxLen": 100}}`)

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunkMaxLen")
}

func TestZoneEnvKey(t *testing.T) {
	assert.Equal(t, "WPP_ADMIN_PALMIRA", ZoneEnvKey("Palmira"))
	assert.Equal(t, "WPP_ADMIN_AMAIME_Y_EL_PLACER", ZoneEnvKey("AMAIME Y EL PLACER"))
	assert.Equal(t, "WPP_ADMIN_NORTE_SUR", ZoneEnvKey(" norte - sur "))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, []string{
		"IDLE_CLOSE_MS=30000",
		"MONITOR_TIMEOUT_MS=90000",
		"WPP_SEND_DELAY_MS=0",
		"WPP_CHUNK_MAXLEN=2000",
		"PYTHON_BIN=/usr/bin/python3.12",
		"MONITOR_SCRIPT=monitor.py",
		"MONITOR_SHEET=Puntos",
		"MONITOR_MAX_WORKERS=8",
		"MONITOR_RETRIES=2",
		"MONITOR_RESOLVE_DNS=yes",
		"MONITOR_EXTRA_ARGS=--fast  --quiet",
		"REPORT_TYPE=extended",
		"TELEGRAM_BOT_TOKEN=42:xyz",
		"WPP_SUPERADMINS=573001110001, 573001110002,",
		"WPP_ADMIN_AMAIME_Y_EL_PLACER=573001110003",
		"WPP_ADMIN_ROZO=",
		"CONSENT_VERSION=2026-05",
		"LOG_LEVEL=debug",
		"MALFORMED",
	})

	assert.Equal(t, 30000, cfg.Conversation.IdleCloseMs)
	assert.Equal(t, 90000, cfg.Report.TimeoutMs)
	assert.Equal(t, time.Duration(0), cfg.Messaging.SendDelay())
	assert.Equal(t, 2000, cfg.Messaging.ChunkMaxLen)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Report.Program)
	assert.Equal(t, "monitor.py", cfg.Report.Script)
	assert.Equal(t, "Puntos", cfg.Report.Sheet)
	assert.Equal(t, 8, cfg.Report.MaxWorkers)
	assert.Equal(t, 2, cfg.Report.Retries)
	assert.True(t, cfg.Report.ResolveDNS)
	assert.Equal(t, []string{"--fast", "--quiet"}, cfg.Report.ExtraArgs)
	assert.Equal(t, "extended", cfg.Report.Kind)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "42:xyz", cfg.Channels.Telegram.BotToken)
	assert.Equal(t, []string{"573001110001", "573001110002"}, cfg.Access.Superadmins)
	assert.Equal(t, map[string][]string{"AMAIME Y EL PLACER": {"573001110003"}}, cfg.Access.ZoneAdmins)
	assert.Equal(t, "2026-05", cfg.Consent.Version)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvIgnoresBadNumbers(t *testing.T) {
	cfg := Default()
	ApplyEnv(cfg, []string{"IDLE_CLOSE_MS=soon", "WPP_SEND_DELAY_MS=fast"})
	assert.Equal(t, 120000, cfg.Conversation.IdleCloseMs)
	assert.Equal(t, 350*time.Millisecond, cfg.Messaging.SendDelay())
}

func TestValidate(t *testing.T) {
	negative := -1
	cases := map[string]func(*Config){
		"conversation.idleCloseMs": func(c *Config) { c.Conversation.IdleCloseMs = 0 },
		"report.timeoutMs":         func(c *Config) { c.Report.TimeoutMs = -5 },
		"sendDelayMs":              func(c *Config) { c.Messaging.SendDelayMs = &negative },
		"chunkMaxLen":              func(c *Config) { c.Messaging.ChunkMaxLen = 499 },
		"sessions.maxEntries":      func(c *Config) { c.Sessions.MaxEntries = 0 },
		"botToken":                 func(c *Config) { c.Channels.Telegram.Enabled = true },
		"logging.level":            func(c *Config) { c.Logging.Level = "loud" },
		"needs an id":              func(c *Config) { c.Zones = append(c.Zones, Zone{Name: "X"}) },
		"duplicate id":             func(c *Config) { c.Zones = append(c.Zones, c.Zones[0]) },
	}
	for want, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		err := cfg.Validate()
		if assert.Error(t, err, want) {
			assert.Contains(t, err.Error(), want)
		}
	}

	assert.NoError(t, Default().Validate())
}

func TestSaveKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportbot.json")
	cfg := Default()
	require.NoError(t, Save(path, cfg))

	cfg.Access.Superadmins = []string{"573001110001"}
	require.NoError(t, Save(path, cfg))

	assert.FileExists(t, path+".bak")
	loaded, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"573001110001"}, loaded.Access.Superadmins)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportbot.json")
	writeFile(t, path, `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { reloaded <- c })
	}()

	// the watcher may not be registered yet on the first write
	var got *Config
	for attempt := 0; attempt < 5 && got == nil; attempt++ {
		time.Sleep(100 * time.Millisecond)
		writeFile(t, path, `{"access": {"superadmins": ["573009990000"]}}`)
		select {
		case got = <-reloaded:
		case <-time.After(2 * time.Second):
		}
	}
	require.NotNil(t, got, "config was not reloaded")
	assert.Equal(t, []string{"573009990000"}, got.Access.Superadmins)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
