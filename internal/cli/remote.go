package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var remoteFlags struct {
	url              string
	remoteType       string
	policy           string
	requirementsFile string
	token            string
	authURL          string
	gitRef           string
	signedOnly       bool
	noDependencies   bool
	metadataOnly     bool
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Aliases: []string{"remotes"},
	Short:   "Manage remotes",
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := list("remotes")
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "remotes", body, "name", "type", "url", "policy")
		return nil
	},
}

var remoteCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a remote",
	Long: `Create a remote describing an upstream source.

Examples:
  pulp-ansible remote create community --url https://galaxy.ansible.com/ -r requirements.yml
  pulp-ansible remote create local-git --type git --url https://github.com/org/collection.git --git-ref main`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"name":              args[0],
			"url":               remoteFlags.url,
			"type":              remoteFlags.remoteType,
			"policy":            remoteFlags.policy,
			"token":             remoteFlags.token,
			"auth_url":          remoteFlags.authURL,
			"git_ref":           remoteFlags.gitRef,
			"signed_only":       remoteFlags.signedOnly,
			"sync_dependencies": !remoteFlags.noDependencies,
			"metadata_only":     remoteFlags.metadataOnly,
		}
		if remoteFlags.requirementsFile != "" {
			data, err := os.ReadFile(remoteFlags.requirementsFile)
			if err != nil {
				return fmt.Errorf("unable to read requirements file: %w", err)
			}
			req["requirements_file"] = string(data)
		}
		body, err := send(http.MethodPost, mgmt("remotes"), req)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name", "type", "url", "policy")
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show <name|id>",
	Short: "Show a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("remotes", args[0])
		if err != nil {
			return err
		}
		body, err := get(mgmt("remotes", id), nil)
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "pulp_href", "id", "name", "type", "url", "policy",
			"sync_dependencies", "signed_only", "requirements_file", "git_ref")
		return nil
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Delete a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := resolveID("remotes", args[0])
		if err != nil {
			return err
		}
		if _, err := send(http.MethodDelete, mgmt("remotes", id), nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteListCmd, remoteCreateCmd, remoteShowCmd, remoteDeleteCmd)

	f := remoteCreateCmd.Flags()
	f.StringVar(&remoteFlags.url, "url", "", "Upstream url")
	f.StringVarP(&remoteFlags.remoteType, "type", "t", "collection", "Remote type: collection, role or git")
	f.StringVarP(&remoteFlags.policy, "policy", "p", "immediate", "Download policy: immediate, on_demand or streamed")
	f.StringVarP(&remoteFlags.requirementsFile, "requirements", "r", "", "Path to a requirements.yml limiting what is synced")
	f.StringVar(&remoteFlags.token, "token", "", "Upstream API token")
	f.StringVar(&remoteFlags.authURL, "auth-url", "", "SSO url exchanging the token for an access token")
	f.StringVar(&remoteFlags.gitRef, "git-ref", "", "Branch, tag or commit of a git remote")
	f.BoolVar(&remoteFlags.signedOnly, "signed-only", false, "Only sync signed collection versions")
	f.BoolVar(&remoteFlags.noDependencies, "no-dependencies", false, "Do not sync dependencies of required collections")
	f.BoolVar(&remoteFlags.metadataOnly, "metadata-only", false, "Only record metadata of a git collection")
	remoteCreateCmd.MarkFlagRequired("url")
}
