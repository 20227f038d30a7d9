package sanitize

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// VisualWidth returns the display width of text, accounting for wide runes.
func VisualWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Truncate cuts s to at most maxWidth display columns, marking the cut with "..."
// when there is room for it.
func Truncate(s string, maxWidth int) string {
	s = strings.TrimSpace(s)
	if maxWidth <= 0 {
		return ""
	}
	if VisualWidth(s) <= maxWidth {
		return s
	}
	if maxWidth > 3 {
		return runewidth.Truncate(s, maxWidth, "...")
	}
	return runewidth.Truncate(s, maxWidth, "")
}

// Wrap breaks text on word boundaries so no line exceeds width columns.
// Words wider than width are split mid-word.
func Wrap(text string, width int) string {
	words := strings.Fields(text)
	if width <= 0 || len(words) == 0 {
		return text
	}

	var lines []string
	var current strings.Builder
	currentWidth := 0
	flush := func() {
		if current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
			currentWidth = 0
		}
	}

	for _, word := range words {
		for VisualWidth(word) > width {
			flush()
			chunk := runewidth.Truncate(word, width, "")
			if chunk == "" {
				// a single rune wider than width
				chunk = string([]rune(word)[:1])
			}
			lines = append(lines, chunk)
			word = word[len(chunk):]
		}
		if word == "" {
			continue
		}

		w := VisualWidth(word)
		switch {
		case currentWidth == 0:
			current.WriteString(word)
			currentWidth = w
		case currentWidth+1+w <= width:
			current.WriteByte(' ')
			current.WriteString(word)
			currentWidth += 1 + w
		default:
			flush()
			current.WriteString(word)
			currentWidth = w
		}
	}
	flush()

	return strings.Join(lines, "\n")
}

// FitLines truncates every line of text to width columns.
func FitLines(text string, width int) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if VisualWidth(line) > width {
			lines[i] = Truncate(line, width)
		}
	}
	return strings.Join(lines, "\n")
}
