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

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data.db
scheduler:
  enabled: true
  misfire_grace: 1h
content:
  provider: static
notifier:
  transports: [postmark, smtp]
  from: lessons@example.com
  smtp_host: smtp.example.com
  smtp_port: 587
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"postmark", "smtp"}, cfg.Notifier.Transports)
	assert.Equal(t, 587, cfg.Notifier.SMTPPort)
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"notifier":{"transports":["smtp"],"password":"x"}}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"logging":{}} {"logging":{}}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Notifier: NotifierConfig{Transports: []string{"filedrop"}, From: "a@example.com"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown transport", mutate: func(c *Config) { c.Notifier.Transports = []string{"pigeon"} }, wantErr: "unknown transport"},
		{name: "duplicate transport", mutate: func(c *Config) { c.Notifier.Transports = []string{"filedrop", "filedrop"} }, wantErr: "duplicate transport"},
		{name: "no transports", mutate: func(c *Config) { c.Notifier.Transports = nil }, wantErr: "at least one transport"},
		{name: "smtp without host", mutate: func(c *Config) { c.Notifier.Transports = []string{"smtp"} }, wantErr: "smtp_host"},
		{name: "bad duration", mutate: func(c *Config) { c.Delivery.DedupWindow = "soon" }, wantErr: "delivery.dedup_window"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "alerts without chat", mutate: func(c *Config) { c.Alerts.Enabled = true }, wantErr: "telegram_chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("scheduler.misfire_grace", "-1s")
	require.ErrorContains(t, err, "scheduler.misfire_grace")
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.True(t, SummarizeConfigChange(oldCfg, newCfg).Empty())

	newCfg.Logging.Level = "info"
	newCfg.Notifier.Transports = []string{"smtp"}
	ch := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "notifier"}, ch.Sections)
	assert.Equal(t, []string{"notifier"}, ch.RestartRequired)
}

func TestLoadSecretsFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GEMINI_API_KEY=from-file\nOPS_TOKEN=file-token\n"), 0o600))
	t.Setenv("OPS_TOKEN", "from-env")
	t.Setenv("GEMINI_API_KEY", "")
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))

	s, err := LoadSecrets(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", s.GeminiAPIKey)
	assert.Equal(t, "from-env", s.OpsToken)

	_, err = LoadSecrets(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	updated := []byte(sampleYAML + "ops:\n  enabled: true\n")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			assert.True(t, cfg.Ops.Enabled)
			assert.True(t, m.Get().Ops.Enabled)
			cancel()
			<-done
			return
		case <-tick.C:
			// Rewrite until the watcher has registered the directory.
			require.NoError(t, os.WriteFile(path, updated, 0o600))
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}
