// Package smtp sends email over authenticated SMTP with go-mail.
package smtp

import (
	"context"
	"errors"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"learnbyemail/internal/transport"
)

const Name = "smtp"

type Config struct {
	Host     string
	Port     int // default 587
	Username string
	Password string
	From     string
	ReplyTo  string
	Timeout  time.Duration
	// TLSPolicy defaults to mandatory STARTTLS.
	TLSPolicy mail.TLSPolicy
}

type Transport struct {
	cfg Config
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, transport.Wrap(Name, transport.KindConfig, errors.New("host required"))
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, transport.Wrap(Name, transport.KindConfig, errors.New("from address required"))
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Transport{cfg: cfg}, nil
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	m, err := t.buildMsg(msg)
	if err != nil {
		return transport.Wrap(Name, transport.KindConfig, err)
	}
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(t.cfg.Timeout),
		mail.WithTLSPortPolicy(t.cfg.TLSPolicy),
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	c, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return transport.Wrap(Name, transport.KindConfig, err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return transport.Wrap(Name, classify(err), err)
	}
	return nil
}

func (t *Transport) buildMsg(msg transport.Message) (*mail.Msg, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}
	m := mail.NewMsg()
	if err := m.From(t.cfg.From); err != nil {
		return nil, err
	}
	if err := m.To(msg.To); err != nil {
		return nil, err
	}
	if t.cfg.ReplyTo != "" {
		if err := m.ReplyTo(t.cfg.ReplyTo); err != nil {
			return nil, err
		}
	}
	m.Subject(msg.Subject)
	if msg.Tag != "" {
		m.SetGenHeader("X-Tag", msg.Tag)
	}
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

func classify(err error) transport.Kind {
	if k := transport.Classify(err); k != transport.KindUnknown {
		return k
	}
	if strings.Contains(err.Error(), "SMTP AUTH failed") {
		return transport.KindAuth
	}
	var se *mail.SendError
	if errors.As(err, &se) {
		if se.IsTemp() {
			return transport.KindNetwork
		}
		return transport.KindRejected
	}
	return transport.KindUnknown
}
