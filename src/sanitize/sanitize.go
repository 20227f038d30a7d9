// Package sanitize cleans Jenkins console output before analysis and fits
// text into the width limits of build annotations.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	// Jenkins console notes: \x1b[8mha:<base64>\x1b[0m, hidden markup emitted
	// by the progressive console endpoints.
	consoleNote = regexp.MustCompile(`\x1b\[8mha:[^\x1b]*\x1b\[0m`)

	// APC timestamp markers (\x1b_bk;t=...\x07) written by some build agents.
	timestampMarker = regexp.MustCompile(`\x1b_bk;t=[0-9]+\x07`)
)

// StripANSI removes ANSI escape sequences and inline timestamp markers.
func StripANSI(s string) string {
	s = timestampMarker.ReplaceAllString(s, "")
	return ansi.Strip(s)
}

// Clean removes console notes and escape sequences and resolves carriage
// returns, keeping only the final state of each progress-bar line.
func Clean(log string) string {
	log = consoleNote.ReplaceAllString(log, "")
	log = StripANSI(log)
	log = strings.ReplaceAll(log, "\r\n", "\n")

	if !strings.Contains(log, "\r") {
		return log
	}
	lines := strings.Split(log, "\n")
	for i, line := range lines {
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}
