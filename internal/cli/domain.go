package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var domainDescription string

var domainCmd = &cobra.Command{
	Use:     "domain",
	Aliases: []string{"domains"},
	Short:   "Manage domains",
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := list("domains")
		if err != nil {
			return err
		}
		printPage(cmd.OutOrStdout(), "domains", body, "name", "description", "created_at")
		return nil
	},
}

var domainCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := send(http.MethodPost, mgmt("domains"), map[string]string{
			"name":        args[0],
			"description": domainDescription,
		})
		if err != nil {
			return err
		}
		printObject(cmd.OutOrStdout(), body, "id", "name", "description")
		return nil
	},
}

var domainDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(http.MethodDelete, mgmt("domains", args[0]), nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "domain %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(domainCmd)
	domainCmd.AddCommand(domainListCmd, domainCreateCmd, domainDeleteCmd)
	domainCreateCmd.Flags().StringVarP(&domainDescription, "description", "d", "", "Domain description")
}
