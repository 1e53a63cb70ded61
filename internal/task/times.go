package task

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var reTimeSep = regexp.MustCompile(`[,\s;]+`)

// ErrNoTimes is returned by ParseTimes when the input holds no time at all.
var ErrNoTimes = errors.New("at least one HH:MM time is required")

// ParseTimes converts "13:30, 14:16;18:00" into ["13:30", "14:16", "18:00"].
//
// Separators are commas, semicolons or whitespace. Entries are normalized to
// zero-padded HH:MM, duplicates collapse and the first occurrence keeps its position.
func ParseTimes(text string) ([]string, error) {
	parts := reTimeSep.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		h, m, err := ParseHHMM(p)
		if err != nil {
			return nil, err
		}
		norm := fmt.Sprintf("%02d:%02d", h, m)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	if len(out) == 0 {
		return nil, ErrNoTimes
	}
	return out, nil
}

// FormatTimes is the inverse of ParseTimes.
func FormatTimes(times []string) string {
	return strings.Join(times, ", ")
}

// ParseHHMM parses a clock time like "6:05" or "23:59".
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, errors.Newf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, errors.Newf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, errors.Newf("invalid minute in %q", s)
	}
	return h, m, nil
}
