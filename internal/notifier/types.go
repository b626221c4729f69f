package notifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"learnbyemail/internal/transport"
)

// Config controls the fallback pipeline. Zero values take defaults.
type Config struct {
	AttemptTimeout time.Duration // default 20s
	RatePerSec     int           // default 5
	HistorySize    int           // default 200
}

var (
	ErrAllTransportsFailed = errors.New("all transports failed")
	ErrNoTransports        = errors.New("no transports configured")
)

// Attempt is one transport try within a Send.
type Attempt struct {
	Transport string         `json:"transport"`
	Kind      transport.Kind `json:"kind,omitempty"` // empty on success
	Took      time.Duration  `json:"took"`
}

// Receipt describes an accepted message.
type Receipt struct {
	ID        string    `json:"id"`
	Transport string    `json:"transport"`
	Attempts  []Attempt `json:"attempts"`
	At        time.Time `json:"at"`
}

type HistoryItem struct {
	At        time.Time `json:"at"`
	Subject   string    `json:"subject"`
	Transport string    `json:"transport,omitempty"`
	OK        bool      `json:"ok"`
	Attempts  []Attempt `json:"attempts"`
}

// NotificationEvent is published on the event bus after each Send.
type NotificationEvent struct {
	ID        string    `json:"id"`
	Transport string    `json:"transport,omitempty"`
	Attempts  int       `json:"attempts"`
	Kind      string    `json:"kind,omitempty"`
	At        time.Time `json:"at"`
}

// AllTransportsFailedError lists every failed attempt in order.
type AllTransportsFailedError struct {
	Attempts []Attempt
	Last     error
}

func (e *AllTransportsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Transport+"="+string(a.Kind))
	}
	return fmt.Sprintf("all transports failed: %s", strings.Join(parts, ", "))
}

func (e *AllTransportsFailedError) Unwrap() error { return e.Last }

func (e *AllTransportsFailedError) Is(target error) bool { return target == ErrAllTransportsFailed }
