package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var distributionFlags struct {
	basePath   string
	repository string
	version    int64
}

var distributionCmd = &cobra.Command{
	Use:     "distribution",
	Aliases: []string{"distributions", "dist"},
	Short:   "Manage distributions",
}

var distributionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List distributions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := list("distributions")
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "distributions", body, "name", "base_path", "repository_version", "client_url")
		return nil
	},
}

var distributionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Serve a repository at a base path",
	Long: `Create a distribution serving the latest version of a repository, or a
fixed version when --version is given.

Example:
  pulp-ansible distribution create community --base-path community --repository community`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := resolveID("repositories", distributionFlags.repository)
		if err != nil {
			return err
		}
		req := map[string]any{
			"name":       args[0],
			"base_path":  distributionFlags.basePath,
			"repository": repoID,
		}
		if cmd.Flags().Changed("version") {
			req["repository_version"] = distributionFlags.version
		}
		body, err := send(http.MethodPost, mgmt("distributions"), req)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name", "base_path", "client_url")
		return nil
	},
}

var distributionDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Delete a distribution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("distributions", args[0])
		if err != nil {
			return err
		}
		if _, err := send(http.MethodDelete, mgmt("distributions", id), nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "distribution %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(distributionCmd)
	distributionCmd.AddCommand(distributionListCmd, distributionCreateCmd, distributionDeleteCmd)

	f := distributionCreateCmd.Flags()
	f.StringVarP(&distributionFlags.basePath, "base-path", "b", "", "Path the distribution is served at")
	f.StringVarP(&distributionFlags.repository, "repository", "r", "", "Repository name or id")
	f.Int64Var(&distributionFlags.version, "version", 0, "Serve this repository version instead of the latest")
	distributionCreateCmd.MarkFlagRequired("base-path")
	distributionCreateCmd.MarkFlagRequired("repository")
}
