package history

import (
	"context"
	"sync"
	"time"

	logx "jobvisor/pkg/logx"
)

// Recorder serializes appends to a Store through one owner goroutine.
//
// Append hands the record over and blocks until the owner has persisted it,
// so a returned nil means the record is on disk.
type Recorder struct {
	store Store
	log   logx.Logger
	now   func() time.Time

	reqs      chan appendReq
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type appendReq struct {
	ctx  context.Context
	task string
	rec  Record
	ack  chan error
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{
		store:   store,
		log:     log,
		now:     time.Now,
		reqs:    make(chan appendReq),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.reqs:
			err := r.store.Append(req.ctx, req.task, req.rec)
			if err != nil {
				r.log.Error("history append failed", logx.String("task", req.task), logx.Err(err))
			}
			req.ack <- err
		}
	}
}

// Append records one execution of task.
func (r *Recorder) Append(ctx context.Context, task string, rc int, dur time.Duration) error {
	req := appendReq{
		ctx:  context.WithoutCancel(ctx),
		task: task,
		rec:  Record{Timestamp: r.now(), ReturnCode: rc, Duration: dur.Seconds()},
		ack:  make(chan error, 1),
	}
	select {
	case r.reqs <- req:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.ack:
		return err
	case <-ctx.Done():
		// The owner still completes the write.
		return ctx.Err()
	}
}

// List returns the task's records, oldest first.
func (r *Recorder) List(ctx context.Context, task string) ([]Record, error) {
	return r.store.List(ctx, task)
}

// Tasks lists every task name with records.
func (r *Recorder) Tasks(ctx context.Context) ([]string, error) {
	return r.store.Tasks(ctx)
}

// Close stops the owner goroutine and closes the store.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.stopped
		err = r.store.Close()
	})
	return err
}
