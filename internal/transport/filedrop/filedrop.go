// Package filedrop writes outbound email to a directory instead of sending
// it. Each message becomes an .html body and a .json metadata file.
package filedrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"learnbyemail/internal/transport"
)

const Name = "filedrop"

type Transport struct {
	dir string
	now func() time.Time
}

var _ transport.Transport = (*Transport)(nil)

func New(dir string) (*Transport, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, transport.Wrap(Name, transport.KindConfig, errors.New("directory required"))
	}
	return &Transport{dir: dir, now: time.Now}, nil
}

func (t *Transport) Name() string { return Name }

type metadata struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag,omitempty"`
}

func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	if err := transport.Validate(msg); err != nil {
		return transport.Wrap(Name, transport.KindConfig, err)
	}
	if err := ctx.Err(); err != nil {
		return transport.Wrap(Name, "", err)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return transport.Wrap(Name, transport.KindConfig, err)
	}

	now := t.now()
	id := uuid.NewString()
	ident := msg.Tag
	if ident == "" {
		ident = msg.Subject
	}
	base := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), safeName(ident), id[:8])

	if err := os.WriteFile(filepath.Join(t.dir, base+".html"), []byte(msg.HTML), 0o644); err != nil {
		return transport.Wrap(Name, transport.KindUnknown, err)
	}
	meta, err := json.MarshalIndent(metadata{
		ID:        id,
		Timestamp: now.Format(time.RFC3339),
		To:        msg.To,
		Subject:   msg.Subject,
		Tag:       msg.Tag,
	}, "", "  ")
	if err != nil {
		return transport.Wrap(Name, transport.KindUnknown, err)
	}
	if err := os.WriteFile(filepath.Join(t.dir, base+".json"), meta, 0o644); err != nil {
		return transport.Wrap(Name, transport.KindUnknown, err)
	}
	return nil
}

var unsafeRe = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func safeName(s string) string {
	s = unsafeRe.ReplaceAllString(strings.ReplaceAll(s, " ", "_"), "")
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
