package logtrace

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type requestIdContextKey string

const requestIdKey = requestIdContextKey("requestId")

// WithRequestId stores the request id on ctx.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey, id)
}

func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIdKey).(string)
	if !ok {
		return ""
	}
	return r
}

// NewCorrelationId returns a short id used to tie together the log lines of
// one background task.
func NewCorrelationId() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return ""
	}
	return id
}

// TaskLogger returns ctx carrying a sub-logger tagged with the task id and a
// fresh logging_cid.
func TaskLogger(ctx context.Context, taskId string) (context.Context, string) {
	cid := NewCorrelationId()
	base := log.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		base = &log.Logger
	}
	l := base.With().Str("task_id", taskId).Str("logging_cid", cid).Logger()
	return l.WithContext(ctx), cid
}
