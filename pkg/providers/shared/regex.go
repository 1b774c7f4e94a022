package shared

import (
	"regexp"
	"strings"
)

var timeRangeRe = regexp.MustCompile(`(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})`)

// ParseTimeRanges extracts "H:MM-HH:MM" pairs from a free-form list such as
// "00:00-06:00; 22:00-24:00". Hours are zero-padded to two digits.
func ParseTimeRanges(s string) [][2]string {
	matches := timeRangeRe.FindAllStringSubmatch(s, -1)
	out := make([][2]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, [2]string{padClock(m[1]), padClock(m[2])})
	}
	return out
}

// CountTimeRangeSeparators returns how many list entries s declares, so
// callers can detect entries the pattern did not match.
func CountTimeRangeSeparators(s string) int {
	n := 0
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func padClock(s string) string {
	if len(s) == 4 {
		return "0" + s
	}
	return s
}
