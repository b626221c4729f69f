package config

import (
	"errors"
	"fmt"
	"strings"

	logx "learnbyemail/pkg/logx"
)

var (
	knownDrivers    = map[string]bool{"sqlite": true, "postgres": true}
	knownTransports = map[string]bool{"postmark": true, "smtp": true, "filedrop": true}
	knownProviders  = map[string]bool{"gemini": true, "static": true}
)

// Validate checks the file config for structural errors. Secrets are checked
// separately when the components that need them are built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if !knownDrivers[driver] {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("scheduler.misfire_grace", cfg.Scheduler.MisfireGrace)
	dur("scheduler.reconcile_every", cfg.Scheduler.ReconcileEvery)
	dur("scheduler.task_timeout", cfg.Scheduler.TaskTimeout)

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		add(errors.New("task_engine: sizes must be >= 0"))
	}
	dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	dur("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)

	dur("delivery.dedup_window", cfg.Delivery.DedupWindow)
	if cfg.Delivery.HistoryContext < 0 {
		add(errors.New("delivery.history_context must be >= 0"))
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Content.Provider))
	if provider != "" && !knownProviders[provider] {
		add(fmt.Errorf("content.provider: unknown provider %q", cfg.Content.Provider))
	}
	dur("content.timeout", cfg.Content.Timeout)
	if cfg.Content.Temperature < 0 || cfg.Content.Temperature > 2 {
		add(errors.New("content.temperature must be within [0, 2]"))
	}

	if len(cfg.Notifier.Transports) == 0 {
		add(errors.New("notifier.transports: at least one transport is required"))
	}
	seen := map[string]bool{}
	for i, name := range cfg.Notifier.Transports {
		n := strings.ToLower(strings.TrimSpace(name))
		switch {
		case !knownTransports[n]:
			add(fmt.Errorf("notifier.transports[%d]: unknown transport %q", i, name))
		case seen[n]:
			add(fmt.Errorf("notifier.transports[%d]: duplicate transport %q", i, name))
		}
		seen[n] = true
	}
	if strings.TrimSpace(cfg.Notifier.From) == "" {
		add(errors.New("notifier.from is required"))
	}
	if seen["smtp"] && strings.TrimSpace(cfg.Notifier.SMTPHost) == "" {
		add(errors.New("notifier.smtp_host is required when smtp is enabled"))
	}
	dur("notifier.attempt_timeout", cfg.Notifier.AttemptTimeout)

	dur("receipts.ttl", cfg.Receipts.TTL)

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.write_timeout", cfg.Ops.WriteTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	if cfg.Alerts.Enabled && cfg.Alerts.TelegramChatID == 0 {
		add(errors.New("alerts.telegram_chat_id is required when alerts are enabled"))
	}
	if _, ok := logx.ParseLevel(cfg.Alerts.MinLevel); !ok {
		add(fmt.Errorf("alerts.min_level: unknown level %q", cfg.Alerts.MinLevel))
	}

	return errors.Join(errs...)
}
