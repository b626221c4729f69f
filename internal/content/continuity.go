package content

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultRecent     = 3
	defaultPriorChars = 6000
	recentCap         = 1500
	headlineCap       = 120
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	blankRe = regexp.MustCompile(`\n\s*\n+`)
	spaceRe = regexp.MustCompile(`[ \t]+`)
)

// PlainText strips markup from a stored lesson.
func PlainText(s string) string {
	s = tagRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func headline(s string) string {
	line, _, _ := strings.Cut(PlainText(s), "\n")
	return truncate(strings.TrimSpace(line), headlineCap)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// continuityBlock shapes prior lessons (oldest first) for a prompt. The last
// recent lessons are kept as capped plain text, older ones shrink to a
// headline, and the oldest lines are dropped until the block fits maxChars.
func continuityBlock(prior []string, recent, maxChars int) string {
	if len(prior) == 0 {
		return ""
	}
	if recent <= 0 {
		recent = defaultRecent
	}
	if maxChars <= 0 {
		maxChars = defaultPriorChars
	}

	cut := max(0, len(prior)-recent)
	lines := make([]string, 0, len(prior))
	for i, p := range prior {
		n := i + 1
		if i < cut {
			if h := headline(p); h != "" {
				lines = append(lines, "Lesson "+strconv.Itoa(n)+": "+h)
			}
			continue
		}
		if body := PlainText(p); body != "" {
			lines = append(lines, "Lesson "+strconv.Itoa(n)+":\n"+truncate(body, recentCap))
		}
	}

	const header = "Previous lessons covered (oldest first):\n"
	size := len(header)
	for _, l := range lines {
		size += len(l) + 2
	}
	for len(lines) > 0 && size > maxChars {
		size -= len(lines[0]) + 2
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return ""
	}
	return header + strings.Join(lines, "\n\n")
}
