package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
)

/*
                        Table "public.tasks"
     Column      |           Type           | Nullable | Default
-----------------+--------------------------+----------+---------
 task_id         | uuid                     | not null |
 domain_id       | uuid                     | not null |
 name            | character varying(128)   | not null |
 state           | character varying(16)    | not null |
 logging_cid     | character varying(32)    | not null | ''
 repository_id   | uuid                     |          |
 remote_id       | uuid                     |          |
 progress        | jsonb                    | not null | '[]'
 error           | jsonb                    |          |
 created_version | bigint                   |          |
 created_at      | timestamp with time zone | not null | now()
 started_at      | timestamp with time zone |          |
 finished_at     | timestamp with time zone |          |
Indexes:
    "tasks_pkey" PRIMARY KEY, btree (task_id)
    "tasks_domain_created_idx" btree (domain_id, created_at DESC)
*/

type Task struct {
	TaskID         uuid.UUID           `db:"task_id"`
	DomainID       uuid.UUID           `db:"domain_id"`
	Name           string              `db:"name"`
	State          catcommon.TaskState `db:"state"`
	LoggingCID     string              `db:"logging_cid"`
	RepositoryID   uuid.NullUUID       `db:"repository_id"`
	RemoteID       uuid.NullUUID       `db:"remote_id"`
	Progress       pgtype.JSONB        `db:"progress"`
	Error          pgtype.JSONB        `db:"error"`
	CreatedVersion sql.NullInt64       `db:"created_version"`
	CreatedAt      time.Time           `db:"created_at"`
	StartedAt      sql.NullTime        `db:"started_at"`
	FinishedAt     sql.NullTime        `db:"finished_at"`
}

// TaskError is the structured error recorded on a failed task.
type TaskError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Traceback   string `json:"traceback,omitempty"`
}

// ProgressReport counts work done in one phase of a task.
type ProgressReport struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	State   string `json:"state"`
	Done    int    `json:"done"`
	Total   int    `json:"total,omitempty"`
}

func (t *Task) SetError(e *TaskError) error {
	if e == nil {
		t.Error = pgtype.JSONB{Status: pgtype.Null}
		return nil
	}
	return t.Error.Set(e)
}

// TaskError decodes the recorded error, or returns nil if there is none.
func (t *Task) TaskError() *TaskError {
	if t.Error.Status != pgtype.Present {
		return nil
	}
	var e TaskError
	if err := json.Unmarshal(t.Error.Bytes, &e); err != nil {
		return &TaskError{Code: "unknown", Description: string(t.Error.Bytes)}
	}
	return &e
}

func (t *Task) SetProgress(reports []ProgressReport) error {
	if reports == nil {
		reports = []ProgressReport{}
	}
	return t.Progress.Set(reports)
}

func (t *Task) ProgressReports() []ProgressReport {
	var reports []ProgressReport
	if t.Progress.Status == pgtype.Present {
		_ = json.Unmarshal(t.Progress.Bytes, &reports)
	}
	return reports
}
