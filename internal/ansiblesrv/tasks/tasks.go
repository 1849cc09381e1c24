// Package tasks runs long operations such as syncs in the background and
// records their state, progress and outcome on a models.Task row.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/pulp/pulp-ansible-sub001/internal/common/logtrace"
	ids "github.com/pulp/pulp-ansible-sub001/internal/common/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTaskNotRunning = dberror.ErrNotFound.New("task is not running")
	ErrShuttingDown   = ansibleerrors.ErrAnsible.New("task runner is shutting down")
)

// Job is the body of a task. It reports through h and returns nil on
// success.
type Job func(ctx context.Context, h *Handle) error

type Runner struct {
	db       db.TaskManager
	slots    *semaphore.Weighted
	deadline time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]*Handle
	closed bool
	wg     sync.WaitGroup
}

// NewRunner returns a runner executing at most concurrency jobs at once.
// A positive deadline bounds the run time of every job.
func NewRunner(d db.TaskManager, concurrency int, deadline time.Duration) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		db:       d,
		slots:    semaphore.NewWeighted(int64(concurrency)),
		deadline: deadline,
		active:   make(map[uuid.UUID]*Handle),
	}
}

// Submit records t as pending and starts job in the background. The domain
// and logger of ctx carry over to the job but its cancellation does not.
func (r *Runner) Submit(ctx context.Context, t *models.Task, job Job) (*models.Task, apperrors.Error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.mu.Unlock()

	t.TaskID = ids.New()
	t.State = catcommon.TaskPending
	jobCtx, cid := logtrace.TaskLogger(context.WithoutCancel(ctx), t.TaskID.String())
	t.LoggingCID = cid
	if err := r.db.CreateTask(ctx, t); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to create task")
		return nil, err
	}

	var cancel context.CancelFunc
	if r.deadline > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, r.deadline)
	} else {
		jobCtx, cancel = context.WithCancel(jobCtx)
	}
	h := &Handle{db: r.db, task: *t, cancel: cancel}

	r.mu.Lock()
	r.active[t.TaskID] = h
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.active, h.task.TaskID)
			r.mu.Unlock()
		}()
		r.run(jobCtx, h, job)
	}()

	created := *t
	return &created, nil
}

func (r *Runner) run(ctx context.Context, h *Handle, job Job) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		h.finish(ctx, err)
		return
	}
	defer r.slots.Release(1)

	h.start(ctx)
	log.Ctx(ctx).Info().Str("name", h.task.Name).Msg("task started")

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = pkgerrors.Errorf("task panicked: %v", p)
			}
		}()
		err = job(ctx, h)
	}()
	h.finish(ctx, err)
}

// Cancel stops a running or pending task. The task records its canceled
// state once the job returns.
func (r *Runner) Cancel(ctx context.Context, taskID uuid.UUID) apperrors.Error {
	r.mu.Lock()
	h, ok := r.active[taskID]
	r.mu.Unlock()
	if !ok {
		return ErrTaskNotRunning
	}
	if d := catcommon.DomainFromContext(ctx); d != nil && d.DomainId != h.task.DomainID {
		return ErrTaskNotRunning
	}
	h.markCanceled()
	h.cancel()
	log.Ctx(ctx).Info().Str("task_id", taskID.String()).Msg("task cancel requested")
	return nil
}

// Active lists the ids of tasks that have not finished.
func (r *Runner) Active() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	return out
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown refuses new tasks, cancels running ones and waits for them or
// for ctx, whichever comes first.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, h := range r.active {
		h.markCanceled()
		h.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is the job's view of its task. It implements the sync reporter.
type Handle struct {
	db       db.TaskManager
	cancel   context.CancelFunc
	mu       sync.Mutex
	task     models.Task
	reports  []models.ProgressReport
	canceled bool
}

func (h *Handle) TaskID() uuid.UUID {
	return h.task.TaskID
}

func (h *Handle) markCanceled() {
	h.mu.Lock()
	h.canceled = true
	h.mu.Unlock()
}

// Phase moves the task to state.
func (h *Handle) Phase(ctx context.Context, state catcommon.TaskState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task.State = state
	return h.save(ctx)
}

// Progress replaces the report with the same code, or appends it.
func (h *Handle) Progress(ctx context.Context, report models.ProgressReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	replaced := false
	for i := range h.reports {
		if h.reports[i].Code == report.Code && report.State != "failed" {
			h.reports[i] = report
			replaced = true
			break
		}
	}
	if !replaced {
		h.reports = append(h.reports, report)
	}
	if err := h.task.SetProgress(h.reports); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to encode task progress")
		return
	}
	if err := h.save(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to save task progress")
	}
}

// SetCreatedVersion records the repository version the task produced.
func (h *Handle) SetCreatedVersion(n int64) {
	h.mu.Lock()
	h.task.CreatedVersion = sql.NullInt64{Int64: n, Valid: true}
	h.mu.Unlock()
}

func (h *Handle) start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task.StartedAt = sql.NullTime{Time: time.Now(), Valid: true}
	if err := h.save(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to mark task started")
	}
}

func (h *Handle) finish(ctx context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}

	var te *models.TaskError
	switch {
	case err == nil:
		h.task.State = catcommon.TaskDone
	case h.canceled || errors.Is(err, ansibleerrors.ErrCanceled):
		h.task.State = catcommon.TaskCanceled
		te = &models.TaskError{Code: ansibleerrors.ErrCanceled.Code(), Description: "task canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		h.task.State = catcommon.TaskCanceled
		te = &models.TaskError{Code: ansibleerrors.ErrCanceled.Code(), Description: "task deadline exceeded"}
	default:
		h.task.State = catcommon.TaskFailed
		code := apperrors.CodeOf(err)
		if code == "" {
			code = "unknown"
		}
		te = &models.TaskError{
			Code:        code,
			Description: err.Error(),
			Traceback:   traceback(err),
		}
	}
	if serr := h.task.SetError(te); serr != nil {
		log.Ctx(ctx).Error().Err(serr).Msg("failed to encode task error")
	}

	// The job context may already be done; the final write must land.
	saveCtx := context.WithoutCancel(ctx)
	if serr := h.save(saveCtx); serr != nil {
		log.Ctx(ctx).Error().Err(serr).Msg("failed to record task outcome")
	}
	ev := log.Ctx(ctx).Info()
	if err != nil {
		ev = log.Ctx(ctx).Error().Err(err)
	}
	ev.Str("state", string(h.task.State)).Msg("task finished")
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// traceback prints the innermost stack in err's chain, which is the one
// recorded where the error was created. Errors that carry none get the
// current stack.
func traceback(err error) string {
	var origin stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			origin = st
		}
	}
	if origin == nil {
		return fmt.Sprintf("%+v", pkgerrors.WithStack(err))
	}
	return fmt.Sprintf("%s%+v", err.Error(), origin.StackTrace())
}

// save must be called with h.mu held.
func (h *Handle) save(ctx context.Context) apperrors.Error {
	t := h.task
	return h.db.UpdateTask(context.WithoutCancel(ctx), &t)
}
