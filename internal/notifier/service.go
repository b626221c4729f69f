package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"learnbyemail/internal/eventbus"
	"learnbyemail/internal/transport"
	logx "learnbyemail/pkg/logx"
)

// Service implements ordered transport fallback. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	bus        eventbus.Bus
	transports []transport.Transport

	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, transports []transport.Transport, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:        log.With(logx.String("comp", "notifier")),
		bus:        bus,
		transports: append([]transport.Transport(nil), transports...),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps rate and timeout settings. The transport list is fixed for the
// life of the Service.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Transports returns the configured transport names in fallback order.
func (s *Service) Transports() []string {
	out := make([]string, 0, len(s.transports))
	for _, t := range s.transports {
		out = append(out, t.Name())
	}
	return out
}

// Send delivers one HTML email. It returns a Receipt naming the transport
// that accepted the message, or an *AllTransportsFailedError.
func (s *Service) Send(ctx context.Context, to, subject, html string) (Receipt, error) {
	return s.SendMessage(ctx, transport.Message{To: to, Subject: subject, HTML: html})
}

func (s *Service) SendMessage(ctx context.Context, msg transport.Message) (Receipt, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if len(s.transports) == 0 {
		return Receipt{}, ErrNoTransports
	}
	if err := lim.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("notifier: rate wait: %w", err)
	}

	id := uuid.NewString()
	attempts := make([]Attempt, 0, len(s.transports))
	var last error
	for _, t := range s.transports {
		name := t.Name()
		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		err := t.Send(actx, msg)
		cancel()
		a := Attempt{Transport: name, Took: time.Since(start)}

		if err == nil {
			attempts = append(attempts, a)
			s.log.Info("email sent", logx.String("id", id), logx.String("transport", name), logx.Duration("took", a.Took))
			r := Receipt{ID: id, Transport: name, Attempts: attempts, At: time.Now().UTC()}
			s.record(msg.Subject, name, true, attempts)
			s.publish("notifier.sent", NotificationEvent{ID: id, Transport: name, Attempts: len(attempts), At: r.At})
			return r, nil
		}

		a.Kind = transport.KindOf(err)
		attempts = append(attempts, a)
		last = err
		s.log.Warn("transport attempt failed",
			logx.String("id", id),
			logx.String("transport", name),
			logx.String("kind", string(a.Kind)),
			logx.Duration("took", a.Took),
		)
		if ctx.Err() != nil {
			break
		}
	}

	s.record(msg.Subject, "", false, attempts)
	s.publish("notifier.failed", NotificationEvent{ID: id, Attempts: len(attempts), Kind: string(attempts[len(attempts)-1].Kind), At: time.Now().UTC()})
	return Receipt{}, &AllTransportsFailedError{Attempts: attempts, Last: last}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) record(subject, tr string, ok bool, attempts []Attempt) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Subject: subject, Transport: tr, OK: ok, Attempts: attempts})
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
