package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"learnbyemail/internal/storage"
	"learnbyemail/internal/task/engine"
	"learnbyemail/internal/task/scheduler"
	logx "learnbyemail/pkg/logx"
)

const reconcileName = "delivery.reconcile"

type JobsConfig struct {
	MisfireGrace   time.Duration // default 1h; 0 after defaults means no catch-up
	ReconcileEvery time.Duration // 0 disables periodic reconcile
	TaskTimeout    time.Duration // default 3m
}

// Jobs is the job table: one daily trigger per active subscription id.
// All mutations go through mu, so CRUD callers, reconcile and fires never
// race on an entry.
type Jobs struct {
	mu sync.Mutex

	sched  *scheduler.Service
	engine *engine.Service
	store  storage.Store
	wf     Deliverer
	cfg    JobsConfig
	log    logx.Logger
	now    func() time.Time

	jobs map[int64]*job
	// states live as long as the table so every fire for an id, including
	// one captured before a Remove and re-Upsert, shares one gate.
	states map[int64]*engine.RunState
	// gen counts mutations; touched records the gen of each id's last one.
	// Reconcile leaves ids touched after its pass began to their caller.
	gen     uint64
	touched map[int64]uint64
}

type job struct {
	rule       scheduler.DailyRule
	lastFire   time.Time
	lastReason string
}

func NewJobs(sched *scheduler.Service, eng *engine.Service, store storage.Store, wf Deliverer, cfg JobsConfig, log logx.Logger) *Jobs {
	if cfg.MisfireGrace < 0 {
		cfg.MisfireGrace = 0
	} else if cfg.MisfireGrace == 0 {
		cfg.MisfireGrace = time.Hour
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 3 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Jobs{
		sched:  sched,
		engine: eng,
		store:  store,
		wf:     wf,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "jobs")),
		now:    time.Now,
		jobs:   map[int64]*job{},
		states:  map[int64]*engine.RunState{},
		touched: map[int64]uint64{},
	}
}

func jobName(id int64) string { return "delivery." + strconv.FormatInt(id, 10) }

// Start loads the job table from storage and registers the periodic
// reconcile. Call it after the scheduler and engine are started.
func (j *Jobs) Start(ctx context.Context) (InitReport, error) {
	rep, err := j.InitializeAll(ctx)
	if err != nil {
		return rep, err
	}
	if j.cfg.ReconcileEvery > 0 {
		if err := j.sched.AddInterval(reconcileName, j.cfg.ReconcileEvery, time.Minute, func(ctx context.Context) error {
			_, err := j.Reconcile(ctx)
			return err
		}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// Stop removes every trigger owned by the table. In-flight deliveries finish
// on the engine.
func (j *Jobs) Stop() {
	j.sched.Remove(reconcileName)
	j.mu.Lock()
	defer j.mu.Unlock()
	for id := range j.jobs {
		j.sched.Remove(jobName(id))
		delete(j.jobs, id)
	}
}

// Upsert schedules sub, or unschedules it when its owner is unconfirmed.
func (j *Jobs) Upsert(sub storage.Subscription) error {
	if sub.HasOwner() && !sub.OwnerConfirmed {
		j.Remove(sub.ID)
		return nil
	}
	return j.UpsertRule(sub.ID, sub.Hour, sub.Minute, sub.Timezone)
}

// UpsertRule replaces any trigger for id with a daily one at hour:minute in
// tz. A bad rule returns *InvalidScheduleError and leaves the table as is.
func (j *Jobs) UpsertRule(id int64, hour, minute int, tz string) error {
	rule := scheduler.DailyRule{Hour: hour, Minute: minute, Timezone: tz}
	if _, err := rule.Location(); err != nil {
		return &InvalidScheduleError{SubscriptionID: id, Rule: rule.String(), Err: err}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.upsertLocked(id, rule)
}

func (j *Jobs) upsertLocked(id int64, rule scheduler.DailyRule) error {
	if err := j.sched.AddDaily(jobName(id), rule, j.cfg.TaskTimeout, j.stateLocked(id), j.fire(id, false)); err != nil {
		return &InvalidScheduleError{SubscriptionID: id, Rule: rule.String(), Err: err}
	}
	j.touchLocked(id)
	prev := j.jobs[id]
	if prev == nil {
		prev = &job{}
		j.jobs[id] = prev
	}
	prev.rule = rule
	j.log.Debug("job scheduled", logx.Int64("subscription", id), logx.String("rule", rule.String()))
	return nil
}

// Remove drops the trigger for id. Removing an unknown id is a no-op. A
// delivery already running finishes; no later fire happens.
func (j *Jobs) Remove(id int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.removeLocked(id)
}

func (j *Jobs) removeLocked(id int64) bool {
	_, had := j.jobs[id]
	delete(j.jobs, id)
	removed := j.sched.Remove(jobName(id))
	j.sched.Remove(jobName(id) + ".catchup")
	j.touchLocked(id)
	if had || removed {
		j.log.Debug("job removed", logx.Int64("subscription", id))
	}
	return had || removed
}

func (j *Jobs) touchLocked(id int64) {
	j.gen++
	j.touched[id] = j.gen
}

func (j *Jobs) RemoveMany(ids []int64) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, id := range ids {
		if j.removeLocked(id) {
			n++
		}
	}
	return n
}

func (j *Jobs) Has(id int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.jobs[id]
	return ok
}

// InitializeAll rebuilds the table from storage, skipping subscriptions of
// unconfirmed owners, and fires once for any fire missed within the misfire
// grace window.
func (j *Jobs) InitializeAll(ctx context.Context) (InitReport, error) {
	rep, err := j.reconcile(ctx, true)
	if err != nil {
		return rep, err
	}
	j.log.Info("jobs initialized",
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("skipped", rep.Skipped),
		logx.Int("total", rep.Total),
		logx.Int("invalid", rep.Invalid),
		logx.Int("caught_up", rep.CaughtUp),
	)
	return rep, nil
}

// Reconcile converges the table with storage: missing jobs are added,
// changed rules replaced, and jobs for deleted or unconfirmed subscriptions
// removed.
func (j *Jobs) Reconcile(ctx context.Context) (InitReport, error) {
	rep, err := j.reconcile(ctx, false)
	if err != nil {
		return rep, err
	}
	if rep.Removed > 0 || rep.Invalid > 0 {
		j.log.Info("jobs reconciled", logx.Int("scheduled", rep.Scheduled), logx.Int("removed", rep.Removed), logx.Int("invalid", rep.Invalid))
	}
	return rep, nil
}

func (j *Jobs) reconcile(ctx context.Context, catchUp bool) (InitReport, error) {
	var rep InitReport
	j.mu.Lock()
	start := j.gen
	j.mu.Unlock()

	subs, err := j.store.ListSubscriptions(ctx)
	if err != nil {
		return rep, fmt.Errorf("list subscriptions: %w", err)
	}
	rep.Total = len(subs)

	seen := make(map[int64]struct{}, len(subs))
	var due []storage.Subscription
	j.mu.Lock()
	for _, sub := range subs {
		seen[sub.ID] = struct{}{}
		// A CRUD call after the listing knows better than the listing.
		if j.touched[sub.ID] > start {
			if _, ok := j.jobs[sub.ID]; ok {
				rep.Scheduled++
			} else {
				rep.Skipped++
			}
			continue
		}
		if sub.HasOwner() && !sub.OwnerConfirmed {
			rep.Skipped++
			if j.removeLocked(sub.ID) {
				rep.Removed++
			}
			continue
		}
		rule := scheduler.DailyRule{Hour: sub.Hour, Minute: sub.Minute, Timezone: sub.Timezone}
		if cur, ok := j.jobs[sub.ID]; ok && !catchUp && cur.rule == rule {
			rep.Scheduled++
			continue
		}
		if err := j.upsertLocked(sub.ID, rule); err != nil {
			rep.Invalid++
			j.log.Warn("subscription has invalid schedule", logx.Int64("subscription", sub.ID), logx.Err(err))
			continue
		}
		rep.Scheduled++
		if catchUp {
			due = append(due, sub)
		}
	}

	var stale []int64
	for id := range j.jobs {
		if _, ok := seen[id]; !ok && j.touched[id] <= start {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if j.removeLocked(id) {
			rep.Removed++
		}
	}
	j.mu.Unlock()

	for _, sub := range due {
		if j.catchUp(sub) {
			rep.CaughtUp++
		}
	}
	return rep, nil
}

// catchUp arms one immediate fire when the latest scheduled fire was missed
// within the grace window.
func (j *Jobs) catchUp(sub storage.Subscription) bool {
	if j.cfg.MisfireGrace <= 0 {
		return false
	}
	now := j.now()
	rule := scheduler.DailyRule{Hour: sub.Hour, Minute: sub.Minute, Timezone: sub.Timezone}
	prev, err := rule.Prev(now)
	if err != nil || !prev.Before(now) || now.Sub(prev) > j.cfg.MisfireGrace {
		return false
	}
	if sub.CreatedAt.After(prev) {
		return false
	}
	if sub.LastSent != nil && !sub.LastSent.Before(prev) {
		return false
	}

	j.mu.Lock()
	st := j.stateLocked(sub.ID)
	j.mu.Unlock()
	if err := j.sched.AddOnce(jobName(sub.ID)+".catchup", now, j.cfg.TaskTimeout, st, j.fire(sub.ID, false)); err != nil {
		j.log.Warn("catch-up not armed", logx.Int64("subscription", sub.ID), logx.Err(err))
		return false
	}
	j.log.Info("missed fire caught up", logx.Int64("subscription", sub.ID), logx.Time("missed", prev))
	return true
}

// OnOwnerConfirmed schedules every subscription of a newly confirmed user.
func (j *Jobs) OnOwnerConfirmed(ctx context.Context, userID int64) (int, error) {
	subs, err := j.store.ListSubscriptionsByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list owner subscriptions: %w", err)
	}
	n := 0
	var errs []error
	for _, sub := range subs {
		if err := j.Upsert(sub); err != nil {
			errs = append(errs, err)
			continue
		}
		if j.Has(sub.ID) {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// RemoveOwner unschedules every subscription of userID.
func (j *Jobs) RemoveOwner(ctx context.Context, userID int64) (int, error) {
	subs, err := j.store.ListSubscriptionsByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list owner subscriptions: %w", err)
	}
	ids := make([]int64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	return j.RemoveMany(ids), nil
}

// TriggerNow enqueues a delivery for id outside its schedule. It shares the
// per-subscription gate with scheduled fires and returns
// engine.ErrOverlapSkip when one is already queued or running.
func (j *Jobs) TriggerNow(id int64) error {
	j.mu.Lock()
	st := j.stateLocked(id)
	j.mu.Unlock()
	return j.engine.Enqueue(engine.Task{
		Name:    jobName(id) + ".manual",
		Timeout: j.cfg.TaskTimeout,
		Run:     j.fire(id, true),
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   st,
	})
}

func (j *Jobs) Snapshot() []JobInfo {
	now := j.now()
	j.mu.Lock()
	out := make([]JobInfo, 0, len(j.jobs))
	for id, jb := range j.jobs {
		info := JobInfo{SubscriptionID: id, Rule: jb.rule.String(), LastFire: jb.lastFire, LastReason: jb.lastReason}
		if next, err := jb.rule.Next(now); err == nil {
			info.Next = next
		}
		if st := j.states[id]; st != nil {
			info.Running = st.Busy()
		}
		out = append(out, info)
	}
	j.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].SubscriptionID < out[b].SubscriptionID })
	return out
}

func (j *Jobs) stateLocked(id int64) *engine.RunState {
	st := j.states[id]
	if st == nil {
		st = &engine.RunState{}
		j.states[id] = st
	}
	return st
}

// fire returns the engine job for id. Scheduled fires re-check the table at
// run time so a fire queued before Remove does not deliver.
func (j *Jobs) fire(id int64, manual bool) scheduler.Job {
	return func(ctx context.Context) error {
		if !manual && !j.Has(id) {
			j.log.Debug("fire for removed job ignored", logx.Int64("subscription", id))
			return nil
		}
		out := j.wf.Deliver(ctx, id)

		j.mu.Lock()
		if jb := j.jobs[id]; jb != nil {
			jb.lastFire, jb.lastReason = out.At, out.Reason
		}
		j.mu.Unlock()

		if out.Reason == ReasonNotFound && !manual {
			j.Remove(id)
		}
		if out.Err != nil {
			return engine.NoRetry(out.Err)
		}
		return nil
	}
}
