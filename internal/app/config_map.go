package app

import (
	"fmt"
	"strings"
	"time"

	"learnbyemail/internal/config"
	"learnbyemail/internal/content"
	"learnbyemail/internal/delivery"
	"learnbyemail/internal/notifier"
	"learnbyemail/internal/observability/ops"
	"learnbyemail/internal/storage"
	"learnbyemail/internal/task/engine"
	logx "learnbyemail/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Alerts.Enabled,
			MinLevel:   cfg.Alerts.MinLevel,
			RatePerSec: cfg.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config, sec config.Secrets) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}
	switch out.Driver {
	case "", "sqlite":
		out.Driver = "sqlite"
		if out.Path == "" {
			out.Path = "./learnbyemail.db"
		}
	case "postgres":
		name := strings.TrimSpace(sc.DSNEnv)
		if name == "" {
			name = "DATABASE_URL"
		}
		out.DSN = sec.Lookup(name)
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage: %s is not set", name)
		}
	}
	return out, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	def, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	delay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	// Deliveries need the engine whenever the scheduler runs.
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: def,
		MaxQueueDelay:  delay,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapJobsConfig(cfg *config.Config) (delivery.JobsConfig, error) {
	sc := cfg.Scheduler
	grace, err := config.ParseDurationOrDefault("scheduler.misfire_grace", sc.MisfireGrace, time.Hour)
	if err != nil {
		return delivery.JobsConfig{}, err
	}
	// An explicit "0s" disables periodic reconcile, so empty and zero differ here.
	every := 15 * time.Minute
	if strings.TrimSpace(sc.ReconcileEvery) != "" {
		if every, err = config.ParseDurationField("scheduler.reconcile_every", sc.ReconcileEvery); err != nil {
			return delivery.JobsConfig{}, err
		}
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.task_timeout", sc.TaskTimeout, 3*time.Minute)
	if err != nil {
		return delivery.JobsConfig{}, err
	}
	return delivery.JobsConfig{MisfireGrace: grace, ReconcileEvery: every, TaskTimeout: timeout}, nil
}

func mapDeliveryOptions(cfg *config.Config) (delivery.Options, error) {
	d := cfg.Delivery
	window, err := config.ParseDurationOrDefault("delivery.dedup_window", d.DedupWindow, time.Hour)
	if err != nil {
		return delivery.Options{}, err
	}
	return delivery.Options{
		DedupWindow:     window,
		ContinueURL:     d.ContinueURL,
		SignupURL:       d.SignupURL,
		UnsubscribeHint: d.UnsubscribeHint,
	}, nil
}

func mapContentOptions(cfg *config.Config) (content.Options, error) {
	timeout, err := config.ParseDurationOrDefault("content.timeout", cfg.Content.Timeout, 60*time.Second)
	if err != nil {
		return content.Options{}, err
	}
	return content.Options{
		Timeout:        timeout,
		HistoryContext: cfg.Delivery.HistoryContext,
		MaxPriorChars:  cfg.Content.MaxPriorChars,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	timeout, err := config.ParseDurationOrDefault("notifier.attempt_timeout", cfg.Notifier.AttemptTimeout, 20*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		AttemptTimeout: timeout,
		RatePerSec:     cfg.Notifier.RatePerSec,
		HistorySize:    cfg.Notifier.HistorySize,
	}, nil
}

func mapOpsConfig(cfg *config.Config, sec config.Secrets) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 90*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         sec.OpsToken,
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapReceiptsTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("receipts.ttl", cfg.Receipts.TTL, 7*24*time.Hour)
}
