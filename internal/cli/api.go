package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpclient"
	"github.com/tidwall/gjson"
)

var (
	pollInterval   = time.Second
	errTaskRunning = errors.New("task has not finished")
)

const listLimit = "100"

var singular = map[string]string{
	"domains":       "domain",
	"remotes":       "remote",
	"repositories":  "repository",
	"distributions": "distribution",
}

func client() httpclient.HTTPClientInterface {
	return newClient(GetConfig())
}

// mgmt joins parts onto the management API root, with a trailing slash.
func mgmt(parts ...string) string {
	return GetConfig().ManagementPath() + "/" + strings.Join(parts, "/") + "/"
}

func get(path string, query map[string]string) ([]byte, error) {
	body, _, err := client().DoRequest(httpclient.RequestOptions{
		Method:      http.MethodGet,
		Path:        path,
		QueryParams: query,
	})
	return body, err
}

func send(method, path string, v any) ([]byte, error) {
	var data []byte
	switch b := v.(type) {
	case nil:
	case []byte:
		data = b
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	body, _, err := client().DoRequest(httpclient.RequestOptions{
		Method: method,
		Path:   path,
		Body:   data,
	})
	return body, err
}

func list(kind string) ([]byte, error) {
	return get(mgmt(kind), map[string]string{"limit": listLimit})
}

// resolveID accepts a uuid or the name of a kind of object and returns the
// uuid.
func resolveID(kind, nameOrID string) (string, error) {
	if _, err := uuid.Parse(nameOrID); err == nil {
		return nameOrID, nil
	}
	body, err := list(kind)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, fmt.Sprintf("data.#(name==%q).id", nameOrID))
	if !id.Exists() {
		return "", fmt.Errorf("%s %q not found", singular[kind], nameOrID)
	}
	return id.String(), nil
}

// waitForTask polls the task at href until it reaches a final state. A
// failed or canceled task is returned along with an error.
func waitForTask(href string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var body []byte
	err := retry.Do(func() error {
		b, err := get(href, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		body = b
		switch gjson.GetBytes(b, "state").String() {
		case "done", "failed", "canceled":
			return nil
		}
		return errTaskRunning
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return body, fmt.Errorf("timed out waiting for task %s", href)
		}
		return nil, err
	}
	switch state := gjson.GetBytes(body, "state").String(); state {
	case "failed":
		return body, fmt.Errorf("task failed: %s", gjson.GetBytes(body, "error.description").String())
	case "canceled":
		return body, errors.New("task was canceled")
	}
	return body, nil
}

// followTask prints the task reference of a 202 response, or waits for the
// task and prints it.
func followTask(accepted []byte, wait bool, timeout time.Duration, out func([]byte)) error {
	href := gjson.GetBytes(accepted, "task").String()
	if href == "" {
		return errors.New("server did not return a task")
	}
	if !wait {
		out(accepted)
		return nil
	}
	body, err := waitForTask(href, timeout)
	if body != nil {
		out(body)
	}
	return err
}
