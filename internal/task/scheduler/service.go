package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"learnbyemail/internal/task/engine"
	logx "learnbyemail/pkg/logx"
)

// Service registers trigger rules and enqueues their jobs on the engine.
// Definitions survive Stop/Start; only the runtime triggers are torn down.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	engine *engine.Service

	c    *cron.Cron
	defs map[string]*scheduleDef
	once map[string]*onceDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, eng *engine.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		engine:      eng,
		defs:        map[string]*scheduleDef{},
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering every registered rule. It is a no-op when the
// scheduler is disabled or already running.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(time.UTC))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	for name, o := range s.once {
		s.armOnceLocked(name, o)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)), logx.Int("once", len(s.once)))
}

// Stop halts triggering. Jobs already handed to the engine keep running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	for _, o := range s.once {
		if o.timer != nil {
			o.timer.Stop()
			o.timer = nil
		}
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddDaily upserts a daily rule under name. The rule is validated before any
// existing definition is touched, so a bad rule leaves the old one in place.
func (s *Service) AddDaily(name string, rule DailyRule, timeout time.Duration, state *engine.RunState, job Job) error {
	sched, err := rule.Schedule()
	if err != nil {
		return err
	}
	return s.add(&scheduleDef{
		name:    strings.TrimSpace(name),
		kind:    kindCron,
		spec:    rule.Spec(),
		sched:   sched,
		timeout: timeout,
		job:     job,
		state:   state,
	})
}

// AddInterval upserts a fixed-interval rule. The first run after Start is
// delayed by a random spread so restarts do not stampede.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidRule)
	}
	return s.add(&scheduleDef{
		name:    strings.TrimSpace(name),
		kind:    kindInterval,
		spec:    "@every " + every.String(),
		every:   every,
		timeout: timeout,
		job:     job,
		state:   &engine.RunState{},
	})
}

func (s *Service) add(d *scheduleDef) error {
	if d.name == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	if d.state == nil {
		d.state = &engine.RunState{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs[d.name] = d
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(d); err != nil {
		delete(s.defs, d.name)
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// AddOnce runs job once at at (immediately if at is in the past). Replacing
// or removing name before it fires cancels the pending run.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, state *engine.RunState, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() || job == nil {
		return errors.New("at and job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ver uint64
	if prev := s.once[name]; prev != nil {
		ver = prev.ver
		if prev.timer != nil {
			prev.timer.Stop()
		}
	}
	o := &onceDef{at: at, timeout: timeout, job: job, state: state, ver: ver + 1}
	s.once[name] = o
	if s.c != nil {
		s.armOnceLocked(name, o)
	}
	return nil
}

func (s *Service) armOnceLocked(name string, o *onceDef) {
	ver := o.ver
	o.timer = time.AfterFunc(max(0, time.Until(o.at)), func() {
		s.mu.Lock()
		cur := s.once[name]
		if cur == nil || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.once, name)
		s.mu.Unlock()
		s.enqueue(name, cur.timeout, cur.state, cur.job)
	})
}

// Remove unregisters every rule and pending one-shot under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	if d, ok := s.defs[name]; ok {
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		delete(s.defs, name)
		removed = true
	}
	if o, ok := s.once[name]; ok {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	return removed
}

// Has reports whether a recurring rule is registered under name.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[name]
	return ok
}

func (s *Service) registerLocked(d *scheduleDef) error {
	job := cron.FuncJob(func() { s.enqueue(d.name, d.timeout, d.state, d.job) })
	if d.kind == kindInterval {
		sched, spread := withStartupSpread(d.every, time.Now(), d.name)
		d.spread = spread
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	if d.sched != nil {
		d.entryID = s.c.Schedule(d.sched, job)
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	d.entryID = id
	return nil
}

func (s *Service) enqueue(name string, timeout time.Duration, state *engine.RunState, job Job) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Timeout: timeout,
		Run:     job,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   state,
	})
	s.reportEnqueueError(name, err)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	for name, o := range s.once {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{Name: name, Spec: "@once", Timeout: o.timeout, Next: o.at, Once: true})
	}
	eng := s.engine
	s.mu.Unlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
