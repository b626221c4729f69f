package config

import (
	"reflect"
	"strings"

	logx "learnbyemail/pkg/logx"
)

// Change describes how a reload affects the running process.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// RestartRequired lists sections whose changes only apply after a restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs section by section and returns
// log-safe attributes for the sections that changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		mark("alerts", false,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.String("alerts.min_level", newCfg.Alerts.MinLevel),
			logx.Int("alerts.rate_per_sec", newCfg.Alerts.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", true, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler", oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.misfire_grace", newCfg.Scheduler.MisfireGrace),
			logx.String("scheduler.reconcile_every", newCfg.Scheduler.ReconcileEvery),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		mark("task_engine", false,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
			logx.String("task_engine.max_queue_delay", newCfg.TaskEngine.MaxQueueDelay),
		)
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		mark("delivery", true, logx.String("delivery.dedup_window", newCfg.Delivery.DedupWindow))
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		mark("content", true,
			logx.String("content.provider", newCfg.Content.Provider),
			logx.String("content.model", newCfg.Content.Model),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		transportsChanged := !reflect.DeepEqual(oldCfg.Notifier.Transports, newCfg.Notifier.Transports) ||
			oldCfg.Notifier.From != newCfg.Notifier.From ||
			oldCfg.Notifier.SMTPHost != newCfg.Notifier.SMTPHost ||
			oldCfg.Notifier.SMTPPort != newCfg.Notifier.SMTPPort ||
			oldCfg.Notifier.FiledropDir != newCfg.Notifier.FiledropDir
		mark("notifier", transportsChanged,
			logx.String("notifier.transports", strings.Join(newCfg.Notifier.Transports, ",")),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.attempt_timeout", newCfg.Notifier.AttemptTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Receipts, newCfg.Receipts) {
		mark("receipts", true, logx.Bool("receipts.enabled", newCfg.Receipts.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		mark("ops", false,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}
	return ch
}
