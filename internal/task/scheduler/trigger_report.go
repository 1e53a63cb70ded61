package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"jobvisor/internal/task/engine"
	logx "jobvisor/pkg/logx"
)

const triggerWarnThrottle = 5 * time.Second

// reportTriggerError logs a failed hand-off. Overlap skips are normal and the
// engine already logs them.
func (s *Service) reportTriggerError(id string, err error) {
	if err == nil || errors.Is(err, engine.ErrOverlapSkip) {
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[id]
	if !last.IsZero() && now.Sub(last) < triggerWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[id] = now
	s.warnMu.Unlock()

	s.log.Warn("schedule trigger not executed", logx.String("id", id), logx.Err(err))
}
