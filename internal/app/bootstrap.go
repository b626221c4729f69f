package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnbyemail/internal/config"
	"learnbyemail/internal/content"
	"learnbyemail/internal/opsalert"
	"learnbyemail/internal/receipts"
	"learnbyemail/internal/transport"
	"learnbyemail/internal/transport/filedrop"
	"learnbyemail/internal/transport/postmark"
	"learnbyemail/internal/transport/smtp"
	logx "learnbyemail/pkg/logx"
)

// buildTransports returns the configured transports in fallback order.
func buildTransports(cfg *config.Config, sec config.Secrets) ([]transport.Transport, error) {
	n := cfg.Notifier
	out := make([]transport.Transport, 0, len(n.Transports))
	for _, name := range n.Transports {
		var (
			t   transport.Transport
			err error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case postmark.Name:
			t, err = postmark.New(postmark.Config{
				ServerToken:  sec.PostmarkServerToken,
				AccountToken: sec.PostmarkAccountToken,
				From:         n.From,
				ReplyTo:      n.ReplyTo,
			})
		case smtp.Name:
			t, err = smtp.New(smtp.Config{
				Host:     n.SMTPHost,
				Port:     n.SMTPPort,
				Username: sec.SMTPUsername,
				Password: sec.SMTPPassword,
				From:     n.From,
				ReplyTo:  n.ReplyTo,
			})
		case filedrop.Name:
			dir := strings.TrimSpace(n.FiledropDir)
			if dir == "" {
				dir = "./outbox"
			}
			t, err = filedrop.New(dir)
		default:
			err = fmt.Errorf("unknown transport %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("notifier.transports: %s: %w", name, err)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("notifier.transports: at least one transport is required")
	}
	return out, nil
}

func buildModel(ctx context.Context, cfg *config.Config, sec config.Secrets) (content.Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Content.Provider)) {
	case "static":
		return content.StaticModel{}, nil
	case "", "gemini":
		if strings.TrimSpace(sec.GeminiAPIKey) == "" {
			return nil, errors.New("content: GEMINI_API_KEY is not set")
		}
		m, err := content.NewGeminiModel(ctx, sec.GeminiAPIKey, cfg.Content.Model, cfg.Content.Temperature)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("content: unknown provider %q", cfg.Content.Provider)
	}
}

// buildReceipts returns the receipt store and, for Redis, a readiness check
// and closer. Without REDIS_URL receipts stay in process memory.
func buildReceipts(ctx context.Context, cfg *config.Config, sec config.Secrets, log logx.Logger) (receipts.Store, func(context.Context) error, func() error, error) {
	ttl, err := mapReceiptsTTL(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if strings.TrimSpace(sec.RedisURL) == "" {
		log.Info("receipts kept in memory (REDIS_URL not set)")
		return receipts.NewMemoryStore(ttl), nil, nil, nil
	}
	client, err := receipts.Connect(ctx, sec.RedisURL, 5*time.Second)
	if err != nil {
		return nil, nil, nil, err
	}
	st := receipts.NewRedisStore(client, ttl)
	log.Info("receipts stored in redis", logx.Duration("ttl", ttl))
	return st, st.Ping, client.Close, nil
}

// buildAlerts returns nil (an untyped nil interface) when alerts are off.
func buildAlerts(cfg *config.Config, sec config.Secrets) (logx.AlertSender, error) {
	if !cfg.Alerts.Enabled {
		return nil, nil
	}
	s, err := opsalert.New(opsalert.Config{
		Token:    sec.TelegramAlertToken,
		ChatID:   cfg.Alerts.TelegramChatID,
		ThreadID: cfg.Alerts.ThreadID,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
