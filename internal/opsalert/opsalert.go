// Package opsalert forwards high-severity log lines to an operator Telegram
// chat. It is a send-only bot: no polling, no handlers.
package opsalert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// Telegram rejects messages longer than this many characters.
const maxMessageRunes = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint; empty means Telegram's.
	APIURL string
}

type Sender struct {
	bot  *tele.Bot
	chat *tele.Chat
	opt  *tele.SendOptions
}

func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram alert token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram alert chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram alert bot: %w", err)
	}
	return &Sender{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opt:  &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

// SendAlert posts text to the configured chat. ctx bounds the wait only;
// telebot has no per-call context, so a slow request finishes in the
// background under the client timeout.
func (s *Sender) SendAlert(ctx context.Context, text string) error {
	text = clip(strings.TrimSpace(text))
	if text == "" {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.chat, text, s.opt)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxMessageRunes-1]) + "…"
}
