package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets are read from the process environment only. They are never logged
// and never compared in config diffs beyond "set / not set".
type Secrets struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	GeminiAPIKey         string `env:"GEMINI_API_KEY"`
	DatabaseURL          string `env:"DATABASE_URL"`
	RedisURL             string `env:"REDIS_URL"`
	TelegramAlertToken   string `env:"TELEGRAM_ALERT_TOKEN"`
	OpsToken             string `env:"OPS_TOKEN"`
}

// LoadSecrets optionally loads envFile (a missing file is fine) and then
// parses the environment. Variables already set win over the file.
func LoadSecrets(envFile string) (Secrets, error) {
	if f := strings.TrimSpace(envFile); f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// Lookup returns the secret bound to an environment variable name. Used for
// indirections such as storage.dsn_env.
func (s Secrets) Lookup(name string) string {
	switch strings.TrimSpace(name) {
	case "DATABASE_URL":
		return s.DatabaseURL
	case "REDIS_URL":
		return s.RedisURL
	default:
		return ""
	}
}
