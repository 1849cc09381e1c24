package logtrace

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestTaskLogger(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "debug")
	defer InitLogger()

	ctx, cid := TaskLogger(context.Background(), "task-1")
	assert.Len(t, cid, 12)
	log.Ctx(ctx).Info().Msg("started")

	line := buf.Bytes()
	assert.Equal(t, "task-1", gjson.GetBytes(line, "task_id").String())
	assert.Equal(t, cid, gjson.GetBytes(line, "logging_cid").String())
	assert.Equal(t, "started", gjson.GetBytes(line, "message").String())
}

func TestRequestId(t *testing.T) {
	assert.Equal(t, "", RequestIdFromContext(context.Background()))
	ctx := WithRequestId(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIdFromContext(ctx))
}
