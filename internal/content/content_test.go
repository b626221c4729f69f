package content

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "learnbyemail/pkg/logx"
)

type fakeModel struct {
	reply  string
	err    error
	block  bool
	prompt string
}

func (m *fakeModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.prompt = prompt
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.reply, m.err
}

const goodLesson = `**Subject: Channels <are> pipes**

Did you know that Go channels can be closed exactly once?

Here's why this matters: closing twice panics, so ownership of the close must be clear.

Let's see it in action: a producer goroutine closes the channel after the last send.

Question for Reflection: who should own the close in a fan-in pipeline?`

func TestSanitizeTopic(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
		err      bool
	}{
		{in: "  Go   concurrency ", want: "Go concurrency"},
		{in: "SQL; DROP TABLE users;--", want: "SQL DROP TABLE users--"},
		{in: "Ｆｕｌｌwidth", want: "Fullwidth"},
		{in: "café, crème", want: "café, crème"},
		{in: "<>!@#$%", err: true},
		{in: "", err: true},
	}
	for _, tc := range cases {
		got, err := SanitizeTopic(tc.in)
		if tc.err {
			require.ErrorIs(t, err, ErrInvalidTopic, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	long, err := SanitizeTopic(strings.Repeat("a", 300))
	require.NoError(t, err)
	assert.Len(t, long, maxTopicRunes)
}

func TestContinuityBlockKeepsRecentAndBounds(t *testing.T) {
	t.Parallel()
	prior := []string{
		"<h2>Lesson about goroutines</h2><p>body one</p>",
		"<h2>Lesson about channels</h2><p>body two</p>",
		"<h2>Lesson about select</h2><p>body three</p>",
		"<h2>Lesson about context</h2><p>body four &amp; more</p>",
	}
	block := continuityBlock(prior, 2, 0)
	assert.Contains(t, block, "Lesson 1: Lesson about goroutines")
	assert.NotContains(t, block, "body one", "older lessons are reduced to a headline")
	assert.Contains(t, block, "body four & more")
	assert.NotContains(t, block, "<p>")
	assert.Less(t, strings.Index(block, "Lesson 3"), strings.Index(block, "Lesson 4"))

	tight := continuityBlock(prior, 2, 120)
	assert.LessOrEqual(t, len(tight), 120)
	assert.NotContains(t, tight, "goroutines", "oldest lines go first")

	assert.Empty(t, continuityBlock(nil, 3, 100))
}

func TestLessonPromptCarriesDifficultyAndHistory(t *testing.T) {
	t.Parallel()
	p := lessonPrompt("Rust", "hard", "Previous lessons covered (oldest first):\nLesson 1: Ownership")
	assert.Contains(t, p, "about Rust")
	assert.Contains(t, p, audience[Hard])
	assert.Contains(t, p, "Lesson 1: Ownership")
	assert.Contains(t, p, "do not repeat")

	p = lessonPrompt("Rust", "bogus", "")
	assert.Contains(t, p, audience[Medium])
	assert.NotContains(t, p, "do not repeat")
}

func TestFormatLessonEscapesAndMapsSections(t *testing.T) {
	t.Parallel()
	out := FormatLesson(goodLesson)
	assert.True(t, strings.HasPrefix(out, `<h2 style="color: #2c3e50;">Channels &lt;are&gt; pipes</h2>`), out)
	assert.Contains(t, out, "<p><strong>Did you know</strong> that Go channels")
	assert.Contains(t, out, ">Understanding the Concept</h3>")
	assert.Contains(t, out, ">Practical Application</h3>")
	assert.Contains(t, out, ">Think About This</h3>")
	assert.NotContains(t, out, "**")
	assert.Equal(t, "Channels <are> pipes", Title(out))
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	t.Run("success with history", func(t *testing.T) {
		t.Parallel()
		m := &fakeModel{reply: goodLesson}
		g := NewGenerator(m, Options{}, logx.Nop())
		out, err := g.Generate(context.Background(), Request{Topic: "Go", Prior: []string{"<h2>Earlier</h2><p>x</p>"}, Difficulty: "easy"})
		require.NoError(t, err)
		assert.Contains(t, out, "Think About This")
		assert.Contains(t, m.prompt, "Lesson 1:")
		assert.Contains(t, m.prompt, audience[Easy])
	})

	t.Run("preview ignores history", func(t *testing.T) {
		t.Parallel()
		m := &fakeModel{reply: goodLesson}
		g := NewGenerator(m, Options{}, logx.Nop())
		_, err := g.Generate(context.Background(), Request{Topic: "Go", Prior: []string{"<h2>Earlier</h2>"}, Preview: true})
		require.NoError(t, err)
		assert.NotContains(t, m.prompt, "Earlier")
		assert.Contains(t, m.prompt, "short preview")
	})

	for name, tc := range map[string]struct {
		model  *fakeModel
		topic  string
		reason string
	}{
		"empty":         {model: &fakeModel{reply: "   "}, topic: "Go", reason: "empty"},
		"malformed":     {model: &fakeModel{reply: strings.Repeat("no opening ", 40)}, topic: "Go", reason: "malformed"},
		"too short":     {model: &fakeModel{reply: "Did you know? yes."}, topic: "Go", reason: "malformed"},
		"model down":    {model: &fakeModel{err: errors.New("503")}, topic: "Go", reason: "model_error"},
		"timeout":       {model: &fakeModel{block: true}, topic: "Go", reason: "timeout"},
		"invalid topic": {model: &fakeModel{reply: goodLesson}, topic: "!!!", reason: "invalid_topic"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(tc.model, Options{Timeout: 20 * time.Millisecond}, logx.Nop())
			out, err := g.Generate(context.Background(), Request{Topic: tc.topic})
			require.ErrorIs(t, err, ErrGeneration)
			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tc.reason, ge.Reason)
			assert.Empty(t, out)
		})
	}
}

func TestStaticModelProducesValidLesson(t *testing.T) {
	t.Parallel()
	g := NewGenerator(StaticModel{}, Options{}, logx.Nop())
	out, err := g.Generate(context.Background(), Request{Topic: "Kubernetes"})
	require.NoError(t, err)
	assert.Contains(t, Title(out), "Kubernetes")
}
