package delivery

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbyemail/internal/storage"
	"learnbyemail/internal/task/engine"
	"learnbyemail/internal/task/scheduler"
	logx "learnbyemail/pkg/logx"
)

type recordingDeliverer struct {
	mu    sync.Mutex
	ids   []int64
	block chan struct{}
}

func (d *recordingDeliverer) Deliver(ctx context.Context, id int64) Outcome {
	d.mu.Lock()
	d.ids = append(d.ids, id)
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	return Outcome{SubscriptionID: id, Sent: true, Reason: ReasonSent, At: time.Now()}
}

func (d *recordingDeliverer) Calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

type jobsFixture struct {
	store *storage.SQLStore
	sched *scheduler.Service
	wf    *recordingDeliverer
	jobs  *Jobs
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Enabled: true}, eng, logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	})
	f := &jobsFixture{store: openStore(t), sched: sched, wf: &recordingDeliverer{}}
	f.jobs = NewJobs(sched, eng, f.store, f.wf, JobsConfig{}, logx.Nop())
	return f
}

func (f *jobsFixture) create(t *testing.T, email string, hour, minute int, tz string, owner *int64) storage.Subscription {
	t.Helper()
	sub, err := f.store.CreateSubscription(context.Background(), storage.NewSubscription{
		Email: email, Topic: "Go", Hour: hour, Minute: minute, Timezone: tz, OwnerID: owner,
	})
	require.NoError(t, err)
	return sub
}

func TestUpsertTwiceKeepsOneJob(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)

	require.NoError(t, f.jobs.UpsertRule(1, 8, 0, "UTC"))
	require.NoError(t, f.jobs.UpsertRule(1, 18, 30, "Asia/Tokyo"))

	snap := f.jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, scheduler.DailyRule{Hour: 18, Minute: 30, Timezone: "Asia/Tokyo"}.String(), snap[0].Rule)

	var daily []scheduler.ScheduleInfo
	for _, s := range f.sched.Snapshot().Schedules {
		if s.Name == "delivery.1" {
			daily = append(daily, s)
		}
	}
	require.Len(t, daily, 1)
	assert.Equal(t, "CRON_TZ=Asia/Tokyo 30 18 * * *", daily[0].Spec)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	assert.NotPanics(t, func() { assert.False(t, f.jobs.Remove(77)) })

	require.NoError(t, f.jobs.UpsertRule(77, 6, 0, "UTC"))
	assert.True(t, f.jobs.Remove(77))
	assert.False(t, f.jobs.Remove(77))
	assert.False(t, f.sched.Has("delivery.77"))
}

func TestUpsertRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	require.NoError(t, f.jobs.UpsertRule(5, 7, 0, "UTC"))

	for _, bad := range []scheduler.DailyRule{
		{Hour: 24, Timezone: "UTC"},
		{Hour: 7, Minute: 61, Timezone: "UTC"},
		{Hour: 7, Timezone: "Not/AZone"},
	} {
		err := f.jobs.UpsertRule(5, bad.Hour, bad.Minute, bad.Timezone)
		var ise *InvalidScheduleError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, int64(5), ise.SubscriptionID)
		require.ErrorIs(t, err, scheduler.ErrInvalidRule)
	}
	snap := f.jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, scheduler.DailyRule{Hour: 7, Timezone: "UTC"}.String(), snap[0].Rule)
}

func TestDailyTriggerFollowsLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	require.NoError(t, f.jobs.UpsertRule(9, 9, 0, "America/New_York"))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	rule := scheduler.DailyRule{Hour: 9, Minute: 0, Timezone: "America/New_York"}
	fires, err := rule.NextFires(time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), 4)
	require.NoError(t, err)
	days := map[string]int{}
	for _, fire := range fires {
		local := fire.In(ny)
		assert.Equal(t, 9, local.Hour())
		days[local.Format("2006-01-02")]++
	}
	assert.Equal(t, map[string]int{"2024-03-09": 1, "2024-03-10": 1, "2024-03-11": 1, "2024-03-12": 1}, days)

	snap := f.jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 9, snap[0].Next.In(ny).Hour())
}

func TestInitializeAllSkipsUnconfirmedOwners(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	ctx := context.Background()

	pending, err := f.store.CreateUser(ctx, "pending@example.com")
	require.NoError(t, err)
	confirmed, err := f.store.CreateUser(ctx, "confirmed@example.com")
	require.NoError(t, err)
	require.NoError(t, f.store.ConfirmUser(ctx, confirmed.ID))

	anon := f.create(t, "anon@example.com", 7, 0, "UTC", nil)
	blocked := f.create(t, "pending@example.com", 7, 0, "UTC", &pending.ID)
	owned := f.create(t, "confirmed@example.com", 7, 0, "Europe/Paris", &confirmed.ID)
	broken := f.create(t, "broken@example.com", 7, 0, "Mars/Olympus", nil)

	rep, err := f.jobs.InitializeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 2, rep.Scheduled)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Invalid)

	assert.True(t, f.jobs.Has(anon.ID))
	assert.True(t, f.jobs.Has(owned.ID))
	assert.False(t, f.jobs.Has(blocked.ID))
	assert.False(t, f.jobs.Has(broken.ID))
}

func TestReconcileConverges(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	ctx := context.Background()

	a := f.create(t, "a@example.com", 7, 0, "UTC", nil)
	b := f.create(t, "b@example.com", 8, 0, "UTC", nil)
	_, err := f.jobs.InitializeAll(ctx)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteSubscription(ctx, a.ID))
	b.Hour = 20
	require.NoError(t, f.store.UpdateSubscription(ctx, b))
	c := f.create(t, "c@example.com", 9, 0, "UTC", nil)
	require.NoError(t, f.jobs.UpsertRule(999, 1, 0, "UTC")) // not in storage

	rep, err := f.jobs.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Removed)
	assert.False(t, f.jobs.Has(a.ID))
	assert.False(t, f.jobs.Has(999))
	assert.True(t, f.jobs.Has(c.ID))

	for _, j := range f.jobs.Snapshot() {
		if j.SubscriptionID == b.ID {
			assert.Equal(t, scheduler.DailyRule{Hour: 20, Timezone: "UTC"}.String(), j.Rule)
		}
	}
}

func TestOwnerConfirmationLifecycle(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	ctx := context.Background()

	u, err := f.store.CreateUser(ctx, "owner@example.com")
	require.NoError(t, err)
	s1 := f.create(t, "owner@example.com", 7, 0, "UTC", &u.ID)
	s2, err := f.store.CreateSubscription(ctx, storage.NewSubscription{Email: "owner@example.com", Topic: "SQL", Hour: 8, Timezone: "UTC", OwnerID: &u.ID})
	require.NoError(t, err)

	require.NoError(t, f.jobs.Upsert(s1), "unconfirmed owner is not an error")
	assert.False(t, f.jobs.Has(s1.ID))

	require.NoError(t, f.store.ConfirmUser(ctx, u.ID))
	n, err := f.jobs.OnOwnerConfirmed(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, f.jobs.Has(s1.ID))
	assert.True(t, f.jobs.Has(s2.ID))

	n, err = f.jobs.RemoveOwner(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.jobs.Snapshot())
}

func TestMisfireCatchUpArmsOnce(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	ctx := context.Background()

	// Pretend the process restarts a day from now, ten minutes after the
	// missed fire. The catch-up is armed on the table's clock.
	restart := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Minute)
	f.jobs.now = func() time.Time { return restart }
	missed := restart.Add(-10 * time.Minute)
	old := restart.Add(-3 * time.Hour)

	due := f.create(t, "due@example.com", missed.Hour(), missed.Minute(), "UTC", nil)
	sent := f.create(t, "sent@example.com", missed.Hour(), missed.Minute(), "UTC", nil)
	_, err := f.store.RecordDelivery(ctx, sent.ID, "already", missed.Add(time.Minute))
	require.NoError(t, err)
	f.create(t, "stale@example.com", old.Hour(), old.Minute(), "UTC", nil)

	rep, err := f.jobs.InitializeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scheduled)
	assert.Equal(t, 1, rep.CaughtUp)

	var once []scheduler.ScheduleInfo
	for _, it := range f.sched.Snapshot().Schedules {
		if it.Once {
			once = append(once, it)
		}
	}
	require.Len(t, once, 1)
	assert.Equal(t, jobName(due.ID)+".catchup", once[0].Name)
	assert.True(t, once[0].Next.Equal(restart), "armed at %s", once[0].Next)

	f.jobs.Remove(due.ID)
	for _, it := range f.sched.Snapshot().Schedules {
		assert.False(t, it.Once, "remove cancels the pending catch-up")
	}
	assert.Empty(t, f.wf.Calls())
}

func TestFireAfterRemoveDoesNotDeliver(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	require.NoError(t, f.jobs.UpsertRule(3, 7, 0, "UTC"))
	fire := f.jobs.fire(3, false)
	f.jobs.Remove(3)

	require.NoError(t, fire(context.Background()))
	assert.Empty(t, f.wf.Calls())

	require.NoError(t, f.jobs.fire(3, true)(context.Background()))
	assert.Equal(t, []int64{3}, f.wf.Calls(), "manual fires do not need a schedule")
}

func TestTriggerNowSharesGate(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	release := make(chan struct{})
	f.wf.block = release
	require.NoError(t, f.jobs.UpsertRule(4, 7, 0, "UTC"))

	require.NoError(t, f.jobs.TriggerNow(4))
	require.Eventually(t, func() bool { return len(f.wf.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, f.jobs.TriggerNow(4), engine.ErrOverlapSkip)

	snap := f.jobs.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Running)

	close(release)
	require.Eventually(t, func() bool { return f.jobs.TriggerNow(4) == nil }, 2*time.Second, 5*time.Millisecond)
}

// pausedStore holds ListSubscriptions open after reading so callers can
// mutate the table while a reconcile pass is in flight.
type pausedStore struct {
	storage.Store
	listed  chan struct{}
	release chan struct{}
}

func (p *pausedStore) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	subs, err := p.Store.ListSubscriptions(ctx)
	close(p.listed)
	<-p.release
	return subs, err
}

func TestReconcileKeepsConcurrentChanges(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)
	ctx := context.Background()

	gone := f.create(t, "gone@example.com", 7, 0, "UTC", nil)
	paused := &pausedStore{Store: f.store, listed: make(chan struct{}), release: make(chan struct{})}
	f.jobs.store = paused

	done := make(chan error, 1)
	go func() {
		_, err := f.jobs.Reconcile(ctx)
		done <- err
	}()
	<-paused.listed

	// Both changes land after the listing was read.
	fresh := f.create(t, "fresh@example.com", 8, 0, "UTC", nil)
	require.NoError(t, f.jobs.Upsert(fresh))
	require.NoError(t, f.store.DeleteSubscription(ctx, gone.ID))
	f.jobs.Remove(gone.ID)

	close(paused.release)
	require.NoError(t, <-done)

	assert.True(t, f.jobs.Has(fresh.ID), "upsert during reconcile survives the stale sweep")
	assert.False(t, f.jobs.Has(gone.ID), "remove during reconcile is not undone")

	// The next pass sees storage as it is now.
	f.jobs.store = f.store
	rep, err := f.jobs.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)
	assert.True(t, f.jobs.Has(fresh.ID))
}

func TestRunStateSurvivesRemoveAndUpsert(t *testing.T) {
	t.Parallel()
	f := newJobsFixture(t)

	require.NoError(t, f.jobs.UpsertRule(5, 7, 0, "UTC"))
	f.jobs.mu.Lock()
	before := f.jobs.states[5]
	f.jobs.mu.Unlock()
	require.NotNil(t, before)

	f.jobs.Remove(5)
	require.NoError(t, f.jobs.UpsertRule(5, 9, 0, "UTC"))

	f.jobs.mu.Lock()
	after := f.jobs.states[5]
	f.jobs.mu.Unlock()
	assert.Same(t, before, after, "old and new fires share one gate")
}
