package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"learnbyemail/internal/task/engine"
)

// Config controls the trigger service.
type Config struct {
	Enabled bool
}

type Job = func(ctx context.Context) error

type kind int

const (
	kindCron kind = iota
	kindInterval
)

type scheduleDef struct {
	name    string
	kind    kind
	spec    string
	sched   cron.Schedule // set for daily rules; spec is then display only
	every   time.Duration
	timeout time.Duration
	job     Job
	state   *engine.RunState
	entryID cron.EntryID
	// spread delays the first interval run after Start.
	spread time.Duration
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	state   *engine.RunState
	ver     uint64
	timer   *time.Timer
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
	Once    bool          `json:"once,omitempty"`
}

type Snapshot struct {
	Enabled   bool            `json:"enabled"`
	Running   bool            `json:"running"`
	Schedules []ScheduleInfo  `json:"schedules"`
	Engine    engine.Snapshot `json:"engine"`
}
