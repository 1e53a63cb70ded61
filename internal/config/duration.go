package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ParseDurationField reads a duration setting. It takes Go duration syntax
// ("90s", "1m30s") or a bare integer meaning seconds. Empty is 0; negative
// values are rejected. path names the setting in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	var (
		d   time.Duration
		err error
	)
	switch n, convErr := strconv.ParseInt(raw, 10, 64); {
	case raw == "":
		return 0, nil
	case convErr == nil:
		d = time.Duration(n) * time.Second
	default:
		if d, err = time.ParseDuration(raw); err != nil {
			return 0, errors.Wrapf(err, "%s: invalid duration %q", path, raw)
		}
	}
	if d < 0 {
		return 0, errors.Newf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
