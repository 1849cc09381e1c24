package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var taskTimeout time.Duration

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	Short:   "Inspect and cancel tasks",
}

// taskPath accepts a task id or the href returned by the server.
func taskPath(arg string) string {
	if len(arg) > 0 && arg[0] == '/' {
		return arg
	}
	return mgmt("tasks", arg)
}

func printTask(w io.Writer, body []byte) {
	if jsonOutput {
		printRaw(w, body)
		return
	}
	if href := gjson.GetBytes(body, "task"); href.Exists() {
		fmt.Fprintf(w, "task: %s\n", href.String())
		return
	}
	printObject(w, body, "pulp_href", "name", "state", "created_version", "error.description")
	for _, p := range gjson.GetBytes(body, "progress_reports").Array() {
		fmt.Fprintf(w, "  %s: %d/%d %s\n", p.Get("code").String(), p.Get("done").Int(), p.Get("total").Int(), p.Get("state").String())
	}
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := list("tasks")
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "tasks", body, "id", "name", "state", "pulp_created")
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id|href>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := get(taskPath(args[0]), nil)
		if err != nil {
			return err
		}
		printTask(cmd.OutOrStdout(), body)
		return nil
	},
}

var taskWaitCmd = &cobra.Command{
	Use:   "wait <id|href>",
	Short: "Wait for a task to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := waitForTask(taskPath(args[0]), taskTimeout)
		if body != nil {
			printTask(cmd.OutOrStdout(), body)
		}
		return err
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id|href>",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := send(http.MethodPost, taskPath(args[0])+"cancel/", nil)
		if err != nil {
			return err
		}
		printTask(cmd.OutOrStdout(), body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskWaitCmd, taskCancelCmd)
	taskWaitCmd.Flags().DurationVar(&taskTimeout, "timeout", time.Hour, "How long to wait")
}
