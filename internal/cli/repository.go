package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var repositoryFlags struct {
	description string
	remote      string
	mirror      bool
	noOptimize  bool
	wait        bool
	timeout     time.Duration
}

var repositoryCmd = &cobra.Command{
	Use:     "repository",
	Aliases: []string{"repositories", "repo"},
	Short:   "Manage repositories and start syncs",
}

var repositoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := list("repositories")
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "repositories", body, "name", "latest_version", "description")
		return nil
	},
}

var repositoryCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"name":        args[0],
			"description": repositoryFlags.description,
		}
		if repositoryFlags.remote != "" {
			id, err := resolveID("remotes", repositoryFlags.remote)
			if err != nil {
				return err
			}
			req["remote"] = id
		}
		body, err := send(http.MethodPost, mgmt("repositories"), req)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name", "latest_version")
		return nil
	},
}

var repositoryShowCmd = &cobra.Command{
	Use:   "show <name|id>",
	Short: "Show a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("repositories", args[0])
		if err != nil {
			return err
		}
		body, err := get(mgmt("repositories", id), nil)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name", "description", "latest_version", "remote")
		return nil
	},
}

var repositoryDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Delete a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("repositories", args[0])
		if err != nil {
			return err
		}
		if _, err := send(http.MethodDelete, mgmt("repositories", id), nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "repository %s deleted\n", args[0])
		return nil
	},
}

var repositoryVersionsCmd = &cobra.Command{
	Use:   "versions <name|id>",
	Short: "List the versions of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("repositories", args[0])
		if err != nil {
			return err
		}
		body, err := get(mgmt("repositories", id, "versions"), map[string]string{"limit": listLimit})
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "versions", body, "number", "created_at")
		return nil
	},
}

var repositorySyncCmd = &cobra.Command{
	Use:   "sync <name|id>",
	Short: "Sync a repository from a remote",
	Long: `Start a sync task. The remote defaults to the one attached to the repository.

Examples:
  pulp-ansible repository sync community --wait
  pulp-ansible repository sync community --remote upstream --mirror`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("repositories", args[0])
		if err != nil {
			return err
		}
		req := map[string]any{
			"mirror":   repositoryFlags.mirror,
			"optimize": !repositoryFlags.noOptimize,
		}
		if repositoryFlags.remote != "" {
			remoteID, err := resolveID("remotes", repositoryFlags.remote)
			if err != nil {
				return err
			}
			req["remote"] = remoteID
		}
		body, err := send(http.MethodPost, mgmt("repositories", id, "sync"), req)
		if err != nil {
			return err
		}
		return followTask(body, repositoryFlags.wait, repositoryFlags.timeout, func(b []byte) {
			printTask(cmd.OutOrStdout(), b)
		})
	},
}

func init() {
	rootCmd.AddCommand(repositoryCmd)
	repositoryCmd.AddCommand(repositoryListCmd, repositoryCreateCmd, repositoryShowCmd,
		repositoryDeleteCmd, repositoryVersionsCmd, repositorySyncCmd)

	repositoryCreateCmd.Flags().StringVarP(&repositoryFlags.description, "description", "d", "", "Repository description")
	repositoryCreateCmd.Flags().StringVar(&repositoryFlags.remote, "remote", "", "Remote attached to the repository")

	f := repositorySyncCmd.Flags()
	f.StringVar(&repositoryFlags.remote, "remote", "", "Remote to sync from")
	f.BoolVar(&repositoryFlags.mirror, "mirror", false, "Remove content the remote no longer offers")
	f.BoolVar(&repositoryFlags.noOptimize, "no-optimize", false, "Resync even if the remote did not change")
	f.BoolVarP(&repositoryFlags.wait, "wait", "w", false, "Wait for the sync task to finish")
	f.DurationVar(&repositoryFlags.timeout, "timeout", time.Hour, "How long to wait for the task")
}
