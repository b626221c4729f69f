package content

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "learnbyemail/pkg/logx"
)

const (
	minLessonChars  = 200
	minPreviewChars = 60
)

// Model is a text completion backend.
type Model interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Provider produces formatted lesson HTML.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Topic      string
	Prior      []string // oldest first
	Difficulty string
	Preview    bool
}

type Options struct {
	Timeout        time.Duration
	HistoryContext int
	MaxPriorChars  int
}

type Generator struct {
	model Model
	opt   Options
	log   logx.Logger
}

var _ Provider = (*Generator)(nil)

func NewGenerator(model Model, opt Options, log logx.Logger) *Generator {
	if opt.Timeout <= 0 {
		opt.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Generator{model: model, opt: opt, log: log.With(logx.String("comp", "content"))}
}

// Generate returns lesson HTML or a *GenerationError. Partial or malformed
// model output is never returned.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	topic, err := SanitizeTopic(req.Topic)
	if err != nil {
		return "", genErr("invalid_topic", err)
	}
	if g.model == nil {
		return "", genErr("model_error", errors.New("no model configured"))
	}

	var prompt string
	minChars := minLessonChars
	if req.Preview {
		prompt = previewPrompt(topic, req.Difficulty)
		minChars = minPreviewChars
	} else {
		prompt = lessonPrompt(topic, req.Difficulty, continuityBlock(req.Prior, g.opt.HistoryContext, g.opt.MaxPriorChars))
	}

	cctx, cancel := context.WithTimeout(ctx, g.opt.Timeout)
	defer cancel()
	start := time.Now()
	text, err := g.model.GenerateText(cctx, prompt)
	if err != nil {
		reason := "model_error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		g.log.Warn("model call failed", logx.String("reason", reason), logx.Duration("took", time.Since(start)))
		return "", genErr(reason, err)
	}

	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", genErr("empty", nil)
	case !strings.Contains(strings.ToLower(text), "did you know"), len(text) < minChars:
		g.log.Warn("model output rejected", logx.Int("len", len(text)), logx.Bool("preview", req.Preview))
		return "", genErr("malformed", nil)
	}

	out := FormatLesson(text)
	g.log.Debug("lesson generated",
		logx.Int("len", len(out)),
		logx.Int("prior", len(req.Prior)),
		logx.Bool("preview", req.Preview),
		logx.Duration("took", time.Since(start)),
	)
	return out, nil
}
