package content

import (
	"fmt"
	"strings"
)

// Difficulty values understood by the prompt builder. Anything else is
// treated as medium.
const (
	Easy   = "easy"
	Medium = "medium"
	Hard   = "hard"
)

var audience = map[string]string{
	Easy:   "Write for a complete beginner. Avoid jargon and explain ideas with everyday analogies.",
	Medium: "Write for a learner with some background. Use correct terminology and include one non-obvious detail.",
	Hard:   "Write for an experienced practitioner. Go deep on edge cases, trade-offs and precise terminology.",
}

func normDifficulty(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if _, ok := audience[d]; ok {
		return d
	}
	return Medium
}

func lessonPrompt(topic, difficulty, continuity string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create an educational email about %s.\n", topic)
	b.WriteString(audience[normDifficulty(difficulty)])
	b.WriteString("\n")
	if continuity != "" {
		b.WriteString("\n")
		b.WriteString(continuity)
		b.WriteString("\n\nBuild on these lessons and do not repeat them. Introduce the next logical idea.\n")
	}
	b.WriteString(`
Structure the response exactly as follows:
1. Start with "**Subject: [Topic-specific engaging title]**"
2. Begin with "Did you know..." followed by an interesting fact
3. A section starting with "Here's why this matters:" explaining the concept
4. A section starting with "Let's see it in action:" with a practical example
5. A section starting with "Question for Reflection:" with one thought-provoking question

Keep the language friendly and engaging, and ensure each section is concise but informative.`)
	return b.String()
}

func previewPrompt(topic, difficulty string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a short preview lesson about %s.\n", topic)
	b.WriteString(audience[normDifficulty(difficulty)])
	b.WriteString(`

Structure the response exactly as follows:
1. Start with "**Subject: [Topic-specific engaging title]**"
2. Begin with "Did you know..." followed by an interesting fact
3. A section starting with "Here's why this matters:" in two or three sentences

Keep it under 150 words.`)
	return b.String()
}
