package cli

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var orphanFlags struct {
	protectionTime int
	wait           bool
	timeout        time.Duration
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Manage content no repository version references",
}

var orphansCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete orphaned content and artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if cmd.Flags().Changed("protection-time") {
			req["orphan_protection_time"] = orphanFlags.protectionTime
		}
		body, err := send(http.MethodPost, mgmt("orphans", "cleanup"), req)
		if err != nil {
			return err
		}
		return followTask(body, orphanFlags.wait, orphanFlags.timeout, func(b []byte) {
			printTask(cmd.OutOrStdout(), b)
		})
	},
}

func init() {
	rootCmd.AddCommand(orphansCmd)
	orphansCmd.AddCommand(orphansCleanupCmd)
	f := orphansCleanupCmd.Flags()
	f.IntVar(&orphanFlags.protectionTime, "protection-time", 0, "Minutes orphaned content is kept before it is deleted")
	f.BoolVarP(&orphanFlags.wait, "wait", "w", false, "Wait for the cleanup task to finish")
	f.DurationVar(&orphanFlags.timeout, "timeout", 10*time.Minute, "How long to wait for the task")
}
