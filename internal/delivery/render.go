package delivery

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"

	"learnbyemail/internal/content"
	"learnbyemail/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

var lessonTmpl = template.Must(template.ParseFS(templatesFS, "templates/lesson.html"))

const (
	defaultContinueURL = "https://chat.openai.com/chat"
	continueExcerpt    = 100
)

type lessonView struct {
	Subject         string
	Topic           string
	Sequence        int
	Difficulty      string
	Lesson          template.HTML
	ContinueURL     string
	ShowSignup      bool
	SignupURL       string
	UnsubscribeHint string
}

// Subject is the outbound subject line for lesson seq of topic.
func Subject(topic string, seq int) string {
	return fmt.Sprintf("Your Daily %s Lesson #%d", topic, seq)
}

// render builds the outbound email. lesson must be formatter output; it is
// embedded without further escaping.
func (w *Workflow) render(sub storage.Subscription, seq int, lesson string) (string, string, error) {
	v := lessonView{
		Subject:         Subject(sub.Topic, seq),
		Topic:           sub.Topic,
		Sequence:        seq,
		Difficulty:      string(sub.Difficulty),
		Lesson:          template.HTML(lesson),
		ContinueURL:     continueURL(w.opt.ContinueURL, sub.Topic, lesson),
		ShowSignup:      !sub.OwnerConfirmed,
		SignupURL:       w.opt.SignupURL,
		UnsubscribeHint: w.opt.UnsubscribeHint,
	}
	var buf bytes.Buffer
	if err := lessonTmpl.Execute(&buf, v); err != nil {
		return "", "", fmt.Errorf("render lesson: %w", err)
	}
	return v.Subject, buf.String(), nil
}

func continueURL(base, topic, lesson string) string {
	if base == "" {
		base = defaultContinueURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	excerpt := []rune(content.PlainText(lesson))
	if len(excerpt) > continueExcerpt {
		excerpt = excerpt[:continueExcerpt]
	}
	q := u.Query()
	q.Set("prompt", fmt.Sprintf("Teach me more about %s building upon this lesson: %s", topic, string(excerpt)))
	u.RawQuery = q.Encode()
	return u.String()
}
