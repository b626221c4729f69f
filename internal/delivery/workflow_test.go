package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnbyemail/internal/content"
	"learnbyemail/internal/eventbus"
	"learnbyemail/internal/notifier"
	"learnbyemail/internal/storage"
	"learnbyemail/internal/transport"
	logx "learnbyemail/pkg/logx"
)

const lessonHTML = `<h2 style="color: #2c3e50;">Goroutines are cheap</h2>
<p><strong>Did you know</strong> a goroutine starts with a few KB of stack?</p>`

func openStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "lessons.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fakeProvider struct {
	mu    sync.Mutex
	err   error
	calls int
	last  content.Request
}

func (p *fakeProvider) Generate(_ context.Context, req content.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return "", p.err
	}
	return lessonHTML, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeTransport struct {
	name string
	err  error

	mu   sync.Mutex
	sent []transport.Message
	fail int
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(_ context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		f.fail++
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Sent() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Message(nil), f.sent...)
}

func (f *fakeTransport) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

type fixture struct {
	store   *storage.SQLStore
	content *fakeProvider
	primary *fakeTransport
	backup  *fakeTransport
	bus     eventbus.Bus
	wf      *Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   openStore(t),
		content: &fakeProvider{},
		primary: &fakeTransport{name: "postmark"},
		backup:  &fakeTransport{name: "smtp"},
		bus:     eventbus.New(),
	}
	n := notifier.New(notifier.Config{RatePerSec: 100}, []transport.Transport{f.primary, f.backup}, logx.Nop(), f.bus)
	f.wf = NewWorkflow(f.store, f.content, n, Options{SignupURL: "https://example.com/signup"}, logx.Nop(), f.bus)
	return f
}

func (f *fixture) subscribe(t *testing.T, owner *int64) storage.Subscription {
	t.Helper()
	sub, err := f.store.CreateSubscription(context.Background(), storage.NewSubscription{
		Email: "learner@example.com", Topic: "Go", Difficulty: storage.DifficultyEasy,
		Hour: 9, Timezone: "America/New_York", OwnerID: owner,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) history(t *testing.T, id int64) []storage.DeliveryRecord {
	t.Helper()
	h, err := f.store.ListHistory(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestDeliverFirstLessonIsSequenceOne(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.subscribe(t, nil)

	out := f.wf.Deliver(context.Background(), sub.ID)
	require.NoError(t, out.Err)
	assert.True(t, out.Sent)
	assert.Equal(t, ReasonSent, out.Reason)
	assert.Equal(t, 1, out.Sequence)
	assert.Equal(t, "postmark", out.Transport)

	sent := f.primary.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Your Daily Go Lesson #1", sent[0].Subject)
	assert.Equal(t, "learner@example.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, "Goroutines are cheap")
	assert.Contains(t, sent[0].HTML, "Lesson #1")
	assert.Contains(t, sent[0].HTML, "Continue Learning")
	assert.Contains(t, sent[0].HTML, "https://example.com/signup", "no confirmed account gets the signup call to action")

	h := f.history(t, sub.ID)
	require.Len(t, h, 1)
	assert.Equal(t, lessonHTML, h[0].Content, "history stores the lesson, not the whole email")

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSent)
	assert.WithinDuration(t, time.Now(), *got.LastSent, 5*time.Second)
	assert.Equal(t, "easy", f.content.last.Difficulty)
	assert.Empty(t, f.content.last.Prior)
}

func TestDeliverBuildsOnHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.subscribe(t, nil)
	ctx := context.Background()
	_, err := f.store.RecordDelivery(ctx, sub.ID, "first", time.Now().Add(-49*time.Hour))
	require.NoError(t, err)
	_, err = f.store.RecordDelivery(ctx, sub.ID, "second", time.Now().Add(-25*time.Hour))
	require.NoError(t, err)

	out := f.wf.Deliver(ctx, sub.ID)
	require.True(t, out.Sent)
	assert.Equal(t, 3, out.Sequence)
	assert.Equal(t, []string{"first", "second"}, f.content.last.Prior)
	assert.Equal(t, "Your Daily Go Lesson #3", f.primary.Sent()[0].Subject)
}

func TestDeliverTooSoon(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.subscribe(t, nil)
	_, err := f.store.RecordDelivery(context.Background(), sub.ID, "recent", time.Now().Add(-30*time.Minute))
	require.NoError(t, err)

	out := f.wf.Deliver(context.Background(), sub.ID)
	assert.False(t, out.Sent)
	assert.Equal(t, ReasonTooSoon, out.Reason)
	assert.NoError(t, out.Err)
	assert.Len(t, f.history(t, sub.ID), 1)
	assert.Zero(t, f.content.Calls())
	assert.Empty(t, f.primary.Sent())
}

func TestDeliverOwnerUnconfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.store.CreateUser(ctx, "owner@example.com")
	require.NoError(t, err)
	sub := f.subscribe(t, &u.ID)

	for _, prep := range []func(){
		func() {},
		func() {
			_, err := f.store.RecordDelivery(ctx, sub.ID, "old", time.Now().Add(-48*time.Hour))
			require.NoError(t, err)
		},
		func() {
			_, err := f.store.RecordDelivery(ctx, sub.ID, "fresh", time.Now().Add(-time.Minute))
			require.NoError(t, err)
		},
	} {
		prep()
		out := f.wf.Deliver(ctx, sub.ID)
		assert.False(t, out.Sent)
		assert.Equal(t, ReasonOwnerUnconfirmed, out.Reason)
	}
	assert.Empty(t, f.primary.Sent())
	assert.Empty(t, f.backup.Sent())
	assert.Zero(t, f.content.Calls())

	require.NoError(t, f.store.ConfirmUser(ctx, u.ID))
	other, err := f.store.CreateSubscription(ctx, storage.NewSubscription{
		Email: "owner@example.com", Topic: "SQL", Hour: 7, Timezone: "UTC", OwnerID: &u.ID,
	})
	require.NoError(t, err)
	out := f.wf.Deliver(ctx, other.ID)
	require.True(t, out.Sent)
	assert.NotContains(t, f.primary.Sent()[0].HTML, "Create a free account")
}

func TestDeliverFallsBackToSecondary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.err = transport.Wrap("postmark", transport.KindAuth, errors.New("bad token"))
	sub := f.subscribe(t, nil)

	out := f.wf.Deliver(context.Background(), sub.ID)
	require.True(t, out.Sent)
	assert.Equal(t, "smtp", out.Transport)
	assert.Equal(t, 1, f.primary.Failures())
	assert.Len(t, f.backup.Sent(), 1)
	assert.Len(t, f.history(t, sub.ID), 1, "exactly one record despite the failed primary attempt")
}

func TestDeliverAllTransportsFailKeepsLastSent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.primary.err = transport.Wrap("postmark", transport.KindNetwork, errors.New("dial"))
	f.backup.err = transport.Wrap("smtp", transport.KindRejected, errors.New("550"))
	sub := f.subscribe(t, nil)
	ctx := context.Background()
	prior := time.Now().Add(-26 * time.Hour)
	_, err := f.store.RecordDelivery(ctx, sub.ID, "yesterday", prior)
	require.NoError(t, err)
	before, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)

	out := f.wf.Deliver(ctx, sub.ID)
	assert.False(t, out.Sent)
	assert.Equal(t, ReasonDeliveryFailed, out.Reason)
	require.ErrorIs(t, out.Err, notifier.ErrAllTransportsFailed)
	assert.Equal(t, 2, out.Sequence)

	after, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastSent)
	assert.True(t, before.LastSent.Equal(*after.LastSent), "last_sent must not move")
	assert.Len(t, f.history(t, sub.ID), 1)
}

func TestDeliverGenerationFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.content.err = &content.GenerationError{Reason: "timeout", Err: context.DeadlineExceeded}
	sub := f.subscribe(t, nil)

	out := f.wf.Deliver(context.Background(), sub.ID)
	assert.False(t, out.Sent)
	assert.Equal(t, ReasonGenerationFailed, out.Reason)
	require.ErrorIs(t, out.Err, content.ErrGeneration)
	assert.Equal(t, 1, f.content.Calls(), "no retry inside one attempt")
	assert.Empty(t, f.primary.Sent())
	assert.Empty(t, f.history(t, sub.ID))
}

func TestDeliverUnknownSubscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	out := f.wf.Deliver(context.Background(), 4242)
	assert.False(t, out.Sent)
	assert.Equal(t, ReasonNotFound, out.Reason)
	assert.NoError(t, out.Err)
}

func TestDeliverPublishesEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(8, "delivery.")
	defer unsub()
	sub := f.subscribe(t, nil)

	f.wf.Deliver(context.Background(), sub.ID)
	f.wf.Deliver(context.Background(), sub.ID)

	want := []string{"delivery.sent", "delivery.skipped"}
	for _, typ := range want {
		select {
		case e := <-events:
			assert.Equal(t, typ, e.Type)
			ev := e.Data.(DeliveryEvent)
			assert.Equal(t, sub.ID, ev.SubscriptionID)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s event", typ)
		}
	}
}

func TestContinueURL(t *testing.T) {
	t.Parallel()
	u := continueURL("", "Go & Rust", lessonHTML)
	assert.True(t, strings.HasPrefix(u, "https://chat.openai.com/chat?prompt="))
	assert.Contains(t, u, "Teach+me+more+about+Go+%26+Rust")
	assert.NotContains(t, u, "%3Ch2")

	assert.Equal(t, "", continueURL("://bad", "Go", lessonHTML))
}

func TestRenderEscapesTopic(t *testing.T) {
	t.Parallel()
	wf := NewWorkflow(nil, nil, nil, Options{UnsubscribeHint: "Reply STOP to unsubscribe."}, logx.Nop(), nil)
	subject, body, err := wf.render(storage.Subscription{Topic: "<script>x</script>", Difficulty: storage.DifficultyHard}, 4, lessonHTML)
	require.NoError(t, err)
	assert.Equal(t, "Your Daily <script>x</script> Lesson #4", subject)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "Goroutines are cheap</h2>", "lesson HTML is embedded as is")
	assert.Contains(t, body, "Reply STOP to unsubscribe.")
	assert.Contains(t, body, "Lesson #4")
}
