package engine

import "github.com/cockroachdb/errors"

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrOverlapSkip = errors.New("task skipped: previous execution still running")
)
