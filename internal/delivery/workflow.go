package delivery

import (
	"context"
	"errors"
	"time"

	"learnbyemail/internal/content"
	"learnbyemail/internal/eventbus"
	"learnbyemail/internal/notifier"
	"learnbyemail/internal/storage"
	"learnbyemail/internal/transport"
	logx "learnbyemail/pkg/logx"
)

const (
	DefaultDedupWindow = time.Hour
	recordTimeout      = 10 * time.Second
)

// Mailer is the notifier surface used by the workflow.
type Mailer interface {
	SendMessage(ctx context.Context, msg transport.Message) (notifier.Receipt, error)
}

type Options struct {
	DedupWindow     time.Duration
	ContinueURL     string
	SignupURL       string
	UnsubscribeHint string
}

type Workflow struct {
	store   storage.Store
	content content.Provider
	mailer  Mailer
	opt     Options
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
}

var _ Deliverer = (*Workflow)(nil)

func NewWorkflow(store storage.Store, provider content.Provider, mailer Mailer, opt Options, log logx.Logger, bus eventbus.Bus) *Workflow {
	if opt.DedupWindow <= 0 {
		opt.DedupWindow = DefaultDedupWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Workflow{
		store:   store,
		content: provider,
		mailer:  mailer,
		opt:     opt,
		log:     log.With(logx.String("comp", "delivery")),
		bus:     bus,
		now:     time.Now,
	}
}

// Deliver makes one delivery attempt for the subscription. History and
// last_sent are written together and only after a transport accepted the
// message, so a failed attempt leaves the next fire to retry with the same
// sequence number.
func (w *Workflow) Deliver(ctx context.Context, id int64) Outcome {
	out := Outcome{SubscriptionID: id, At: w.now().UTC()}
	log := w.log.With(logx.Int64("subscription", id))

	sub, err := w.store.GetSubscription(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return w.skip(log, out, storage.Subscription{ID: id}, ReasonNotFound)
	}
	if err != nil {
		return w.fail(log, out, storage.Subscription{ID: id}, ReasonStorage, err)
	}

	if sub.HasOwner() && !sub.OwnerConfirmed {
		return w.skip(log, out, sub, ReasonOwnerUnconfirmed)
	}
	if sub.LastSent != nil && out.At.Sub(*sub.LastSent) < w.opt.DedupWindow {
		return w.skip(log, out, sub, ReasonTooSoon)
	}

	hist, err := w.store.ListHistory(ctx, id)
	if err != nil {
		return w.fail(log, out, sub, ReasonStorage, err)
	}
	out.Sequence = len(hist) + 1
	prior := make([]string, 0, len(hist))
	for _, h := range hist {
		prior = append(prior, h.Content)
	}

	lesson, err := w.content.Generate(ctx, content.Request{
		Topic:      sub.Topic,
		Prior:      prior,
		Difficulty: string(sub.Difficulty),
	})
	if err != nil {
		return w.fail(log, out, sub, ReasonGenerationFailed, err)
	}

	subject, body, err := w.render(sub, out.Sequence, lesson)
	if err != nil {
		return w.fail(log, out, sub, ReasonGenerationFailed, err)
	}

	receipt, err := w.mailer.SendMessage(ctx, transport.Message{To: sub.Email, Subject: subject, HTML: body, Tag: "lesson"})
	if err != nil {
		return w.fail(log, out, sub, ReasonDeliveryFailed, err)
	}
	out.Sent = true
	out.Transport = receipt.Transport

	// The email is out; record it even if the caller's context is ending.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := w.store.RecordDelivery(rctx, id, lesson, out.At); err != nil {
		out.Reason, out.Err = ReasonRecordFailed, err
		log.Error("delivery sent but not recorded", logx.Int("seq", out.Sequence), logx.Err(err))
		w.publish("delivery.failed", sub, out, receipt.ID)
		return out
	}

	out.Reason = ReasonSent
	log.Info("lesson delivered",
		logx.Int("seq", out.Sequence),
		logx.String("transport", receipt.Transport),
		logx.Int("attempts", len(receipt.Attempts)),
	)
	w.publish("delivery.sent", sub, out, receipt.ID)
	return out
}

func (w *Workflow) skip(log logx.Logger, out Outcome, sub storage.Subscription, reason string) Outcome {
	out.Reason = reason
	log.Info("delivery skipped", logx.String("reason", reason))
	w.publish("delivery.skipped", sub, out, "")
	return out
}

func (w *Workflow) fail(log logx.Logger, out Outcome, sub storage.Subscription, reason string, err error) Outcome {
	out.Reason, out.Err = reason, err
	fields := []logx.Field{logx.String("reason", reason), logx.Int("seq", out.Sequence)}
	var ge *content.GenerationError
	var af *notifier.AllTransportsFailedError
	switch {
	case errors.As(err, &ge):
		fields = append(fields, logx.String("kind", ge.Reason))
	case errors.As(err, &af):
		fields = append(fields, logx.Int("attempts", len(af.Attempts)))
	default:
		fields = append(fields, logx.Err(err))
	}
	log.Warn("delivery failed", fields...)
	w.publish("delivery.failed", sub, out, "")
	return out
}

func (w *Workflow) publish(typ string, sub storage.Subscription, out Outcome, receiptID string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{Type: typ, Time: out.At, Data: DeliveryEvent{
		SubscriptionID: out.SubscriptionID,
		Topic:          sub.Topic,
		Sequence:       out.Sequence,
		Reason:         out.Reason,
		Transport:      out.Transport,
		ReceiptID:      receiptID,
		At:             out.At,
	}})
}
