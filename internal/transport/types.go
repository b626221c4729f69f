// Package transport defines the outbound email backend contract and the error
// kinds used to classify backend failures without logging their bodies.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Tag     string // provider-side category, e.g. "lesson"
}

// Transport sends a Message through one backend. Implementations make a
// single attempt and never retry internally.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Kind string

const (
	KindAuth     Kind = "auth"
	KindNetwork  Kind = "network"
	KindTimeout  Kind = "timeout"
	KindRejected Kind = "rejected"
	KindConfig   Kind = "config"
	KindUnknown  Kind = "unknown"
)

var ErrInvalidMessage = errors.New("invalid message")

// Error is a classified backend failure.
type Error struct {
	Transport string
	Kind      Kind
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Transport, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err for transport name. A nil err stays nil.
func Wrap(name string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if kind == "" {
		kind = Classify(err)
	}
	return &Error{Transport: name, Kind: kind, Err: err}
}

// KindOf returns the kind recorded on err, or a best-effort classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Classify(err)
}

// Classify maps generic Go errors onto kinds.
func Classify(err error) Kind {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidMessage):
		return KindConfig
	case errors.As(err, &ne):
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// Validate rejects messages no backend could deliver.
func Validate(m Message) error {
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.HTML) == "" {
		return fmt.Errorf("%w: body required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: bad recipient address", ErrInvalidMessage)
	}
	return nil
}
