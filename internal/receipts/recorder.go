package receipts

import (
	"context"
	"time"

	"learnbyemail/internal/delivery"
	"learnbyemail/internal/eventbus"
	logx "learnbyemail/pkg/logx"
)

// Recorder persists a receipt for every delivery.sent event.
type Recorder struct {
	bus   eventbus.Bus
	store Store
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log.With(logx.String("comp", "receipts"))}
}

// Run consumes events until ctx is done. Store errors are logged and the
// event is dropped; a receipt is a convenience, not a record of truth.
func (r *Recorder) Run(ctx context.Context) error {
	events, unsub := r.bus.Subscribe(64, "delivery.sent")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(delivery.DeliveryEvent)
			if !ok {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.Put(pctx, Receipt{
				SubscriptionID: ev.SubscriptionID,
				Sequence:       ev.Sequence,
				Topic:          ev.Topic,
				Transport:      ev.Transport,
				ReceiptID:      ev.ReceiptID,
				At:             ev.At,
			})
			cancel()
			if err != nil {
				r.log.Warn("receipt not stored", logx.Int64("subscription", ev.SubscriptionID), logx.Err(err))
			}
		}
	}
}
