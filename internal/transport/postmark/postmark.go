// Package postmark sends email through the Postmark HTTP API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pm "github.com/mrz1836/postmark"

	"learnbyemail/internal/transport"
)

const Name = "postmark"

// Postmark API error codes that mean the credentials are wrong.
const (
	codeBadToken      = 10
	codeInactiveToken = 11
)

type Config struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
	BaseURL      string // API override for tests
}

type Transport struct {
	client *pm.Client
	cfg    Config
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, transport.Wrap(Name, transport.KindConfig, errors.New("server token required"))
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, transport.Wrap(Name, transport.KindConfig, errors.New("from address required"))
	}
	c := pm.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Transport{client: c, cfg: cfg}, nil
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	if err := transport.Validate(msg); err != nil {
		return transport.Wrap(Name, transport.KindConfig, err)
	}
	resp, err := t.client.SendEmail(ctx, pm.Email{
		From:       t.cfg.From,
		ReplyTo:    t.cfg.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
	})
	if err != nil {
		return transport.Wrap(Name, classify(err), err)
	}
	if resp.ErrorCode > 0 {
		// The provider message can echo addresses; keep only the code.
		kind := transport.KindRejected
		if resp.ErrorCode == codeBadToken || resp.ErrorCode == codeInactiveToken {
			kind = transport.KindAuth
		}
		return transport.Wrap(Name, kind, fmt.Errorf("api error code %d", resp.ErrorCode))
	}
	return nil
}

func classify(err error) transport.Kind {
	if k := transport.Classify(err); k != transport.KindUnknown {
		return k
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "401"), strings.Contains(s, "403"):
		return transport.KindAuth
	case strings.Contains(s, "422"), strings.Contains(s, "400"):
		return transport.KindRejected
	}
	return transport.KindUnknown
}
