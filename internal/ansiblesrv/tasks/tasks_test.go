package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, deadline ...time.Duration) (context.Context, *Runner, func(uuid.UUID) *models.Task) {
	t.Helper()
	m := memdb.New()
	ctx := log.Logger.WithContext(context.Background())
	d, aerr := m.GetDomainByName(ctx, catcommon.DefaultDomainName)
	require.Nil(t, aerr)
	ctx = catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: d.DomainID, Name: d.Name})
	var dl time.Duration
	if len(deadline) > 0 {
		dl = deadline[0]
	}
	r := NewRunner(m, 2, dl)
	get := func(id uuid.UUID) *models.Task {
		task, aerr := m.GetTask(ctx, id)
		require.Nil(t, aerr)
		return task
	}
	return ctx, r, get
}

func TestSubmitSuccess(t *testing.T) {
	ctx, r, get := setup(t)

	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		assert.NoError(t, h.Phase(ctx, catcommon.TaskFetching))
		h.Progress(ctx, models.ProgressReport{Code: "sync.downloading.artifacts", State: "running", Done: 1, Total: 2})
		h.Progress(ctx, models.ProgressReport{Code: "sync.downloading.artifacts", State: "completed", Done: 2, Total: 2})
		h.SetCreatedVersion(3)
		return nil
	})
	require.Nil(t, aerr)
	assert.Equal(t, catcommon.TaskPending, task.State)
	assert.NotEmpty(t, task.LoggingCID)
	r.Wait()

	got := get(task.TaskID)
	assert.Equal(t, catcommon.TaskDone, got.State)
	assert.Nil(t, got.TaskError())
	assert.True(t, got.StartedAt.Valid)
	assert.True(t, got.FinishedAt.Valid)
	assert.Equal(t, int64(3), got.CreatedVersion.Int64)
	reports := got.ProgressReports()
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Done)
	assert.Equal(t, "completed", reports[0].State)
	assert.Empty(t, r.Active())
}

func TestSubmitFailureRecordsError(t *testing.T) {
	ctx, r, get := setup(t)

	url := "https://galaxy.example.com/api/v3/collections/"
	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		return ansibleerrors.ProxyAuthRequired(url)
	})
	require.Nil(t, aerr)
	r.Wait()

	got := get(task.TaskID)
	assert.Equal(t, catcommon.TaskFailed, got.State)
	te := got.TaskError()
	require.NotNil(t, te)
	assert.Contains(t, te.Description, "407, message='Proxy Authentication Required'")
	assert.Equal(t, ansibleerrors.ErrProxyAuthRequired.Code(), te.Code)
	assert.NotEmpty(t, te.Traceback)
}

func TestPlainErrorGetsUnknownCode(t *testing.T) {
	ctx, r, get := setup(t)

	task, aerr := r.Submit(ctx, &models.Task{Name: "reindex"}, func(ctx context.Context, h *Handle) error {
		return errors.New("boom")
	})
	require.Nil(t, aerr)
	r.Wait()

	te := get(task.TaskID).TaskError()
	require.NotNil(t, te)
	assert.Equal(t, "unknown", te.Code)
	assert.Equal(t, "boom", te.Description)
}

func failDeepInJob() error {
	return pkgerrors.New("upstream unreachable")
}

func TestTracebackKeepsOriginStack(t *testing.T) {
	ctx, r, get := setup(t)

	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		return pkgerrors.Wrap(failDeepInJob(), "sync failed")
	})
	require.Nil(t, aerr)
	r.Wait()

	te := get(task.TaskID).TaskError()
	require.NotNil(t, te)
	assert.Equal(t, "sync failed: upstream unreachable", te.Description)
	assert.Contains(t, te.Traceback, "failDeepInJob")
	assert.NotContains(t, te.Traceback, "(*Handle).finish")
}

func TestPanicFailsTask(t *testing.T) {
	ctx, r, get := setup(t)

	task, aerr := r.Submit(ctx, &models.Task{Name: "reindex"}, func(ctx context.Context, h *Handle) error {
		panic("bad state")
	})
	require.Nil(t, aerr)
	r.Wait()

	got := get(task.TaskID)
	assert.Equal(t, catcommon.TaskFailed, got.State)
	assert.Contains(t, got.TaskError().Description, "bad state")
}

func TestCancel(t *testing.T) {
	ctx, r, get := setup(t)

	started := make(chan struct{})
	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.Nil(t, aerr)
	<-started
	require.Nil(t, r.Cancel(ctx, task.TaskID))
	r.Wait()

	got := get(task.TaskID)
	assert.Equal(t, catcommon.TaskCanceled, got.State)
	assert.Equal(t, "canceled", got.TaskError().Code)

	assert.ErrorIs(t, r.Cancel(ctx, task.TaskID), ErrTaskNotRunning)
}

func TestCancelFromOtherDomain(t *testing.T) {
	ctx, r, _ := setup(t)

	release := make(chan struct{})
	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		<-release
		return nil
	})
	require.Nil(t, aerr)

	other := catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: uuid.New(), Name: "other"})
	assert.ErrorIs(t, r.Cancel(other, task.TaskID), ErrTaskNotRunning)
	close(release)
	r.Wait()
}

func TestDeadline(t *testing.T) {
	ctx, r, get := setup(t, 20*time.Millisecond)

	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Nil(t, aerr)
	r.Wait()

	got := get(task.TaskID)
	assert.Equal(t, catcommon.TaskCanceled, got.State)
	assert.Equal(t, "task deadline exceeded", got.TaskError().Description)
}

func TestConcurrencyLimit(t *testing.T) {
	ctx, r, _ := setup(t)

	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		_, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
		require.Nil(t, aerr)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	r.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestShutdownRejectsNewTasks(t *testing.T) {
	ctx, r, get := setup(t)

	started := make(chan struct{})
	task, aerr := r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.Nil(t, aerr)
	<-started

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(sctx))
	assert.Equal(t, catcommon.TaskCanceled, get(task.TaskID).State)

	_, aerr = r.Submit(ctx, &models.Task{Name: "sync"}, func(ctx context.Context, h *Handle) error { return nil })
	assert.ErrorIs(t, aerr, ErrShuttingDown)
}
