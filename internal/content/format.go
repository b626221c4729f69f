package content

import (
	"html"
	"regexp"
	"strings"
)

var listPrefixRe = regexp.MustCompile(`^(?:#+\s*|\d+[.)]\s*)`)

var sections = []struct{ marker, title string }{
	{"Here's why this matters:", "Understanding the Concept"},
	{"Let's see it in action:", "Practical Application"},
	{"Question for Reflection:", "Think About This"},
}

// FormatLesson converts the model's five-section text into HTML. Model text
// is always escaped; only the fixed headings and wrappers are markup.
func FormatLesson(text string) string {
	text = strings.NewReplacer("**", "", "’", "'").Replace(text)
	var b strings.Builder
	subjectDone := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		line = listPrefixRe.ReplaceAllString(line, "")

		if !subjectDone {
			if rest, ok := cutPrefixFold(line, "Subject:"); ok {
				b.WriteString(`<h2 style="color: #2c3e50;">` + html.EscapeString(strings.TrimSpace(rest)) + "</h2>\n")
				subjectDone = true
				continue
			}
		}
		subjectDone = true

		if rest, ok := cutPrefixFold(line, "Did you know"); ok {
			b.WriteString("<p><strong>Did you know</strong>" + html.EscapeString(rest) + "</p>\n")
			continue
		}
		matched := false
		for _, s := range sections {
			if rest, ok := cutPrefixFold(line, s.marker); ok {
				b.WriteString(`<h3 style="color: #34495e;">` + s.title + "</h3>\n")
				if rest = strings.TrimSpace(rest); rest != "" {
					b.WriteString("<p>" + html.EscapeString(rest) + "</p>\n")
				}
				matched = true
				break
			}
		}
		if !matched {
			b.WriteString("<p>" + html.EscapeString(line) + "</p>\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// Title returns the lesson's subject heading, or "" when it has none.
func Title(lessonHTML string) string {
	i := strings.Index(lessonHTML, "<h2")
	if i < 0 {
		return ""
	}
	j := strings.Index(lessonHTML[i:], "</h2>")
	if j < 0 {
		return ""
	}
	return PlainText(lessonHTML[i : i+j])
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
