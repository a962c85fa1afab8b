package customize

import (
	"regexp"
	"slices"
	"strings"
)

const passwordAuthOff = "PasswordAuthentication no"

// passwordAuthLine matches the directive whether commented out or active and
// whatever its value.
var passwordAuthLine = regexp.MustCompile(`(?i)^[ \t]*#?[ \t]*PasswordAuthentication([ \t=].*)?$`)

// matchLine opens a conditional block; everything after it up to the end of
// the file applies only to matching clients.
var matchLine = regexp.MustCompile(`(?i)^[ \t]*Match([ \t].*)?$`)

// HardenSSHConfig returns config with every PasswordAuthentication line,
// including those inside Match blocks, replaced by one global
// "PasswordAuthentication no". The directive takes the position of the first
// existing line when that lies in the global section, and otherwise goes
// right before the first Match block, or at the end when there is none.
func HardenSSHConfig(config string) string {
	trailingNewline := config == "" || strings.HasSuffix(config, "\n")
	lines := strings.Split(strings.TrimSuffix(config, "\n"), "\n")
	if config == "" {
		lines = nil
	}

	out := make([]string, 0, len(lines)+1)
	at, firstMatch := -1, -1
	for _, line := range lines {
		if passwordAuthLine.MatchString(line) {
			if at < 0 && firstMatch < 0 {
				at = len(out)
			}
			continue
		}
		if firstMatch < 0 && matchLine.MatchString(line) {
			firstMatch = len(out)
		}
		out = append(out, line)
	}

	switch {
	case at >= 0:
	case firstMatch >= 0:
		at = firstMatch
	default:
		at = len(out)
		trailingNewline = true
	}
	out = slices.Insert(out, at, passwordAuthOff)

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result
}
