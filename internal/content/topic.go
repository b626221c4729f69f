package content

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxTopicRunes = 100

// SanitizeTopic normalizes a user-supplied topic before it reaches a prompt.
// Letters, digits, spaces and "-_.," survive; everything else is dropped and
// whitespace is collapsed. An empty result is ErrInvalidTopic.
func SanitizeTopic(raw string) (string, error) {
	var b strings.Builder
	space := false
	for _, r := range norm.NFKC.String(raw) {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune("-_.,", r):
		default:
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := []rune(b.String())
	if len(out) > maxTopicRunes {
		out = []rune(strings.TrimSpace(string(out[:maxTopicRunes])))
	}
	if len(out) == 0 {
		return "", ErrInvalidTopic
	}
	return string(out), nil
}
