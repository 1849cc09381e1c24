package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pulp/pulp-ansible-sub001/internal/common/httpclient"
	"github.com/spf13/cobra"
)

const cliVersion = "v0.21.0"

var (
	// Global flags
	jsonOutput bool
	configFile string

	newClient = func(cfg *Config) httpclient.HTTPClientInterface {
		return httpclient.NewClient(cfg)
	}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulp-ansible",
	Short: "pulp-ansible manages an Ansible content server",
	Long: `pulp-ansible is a command line interface for an Ansible collection server.
It manages domains, remotes, repositories and distributions, starts syncs and
uploads, and follows the tasks they create.`,
	PersistentPreRunE: preRunHandlePersistents,
	SilenceErrors:     true,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newVersionCmd())
}

// NewRootCmd returns the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(os.Stdout, map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// skipsConfig reports whether cmd runs without the CLI config file.
func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["config"] == "skip" {
			return true
		}
	}
	return false
}

func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	if skipsConfig(cmd) {
		return nil
	}
	if configFile == "" {
		var err error
		if configFile, err = GetDefaultConfigPath(); err != nil {
			return err
		}
	}
	if err := LoadConfig(configFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found, run \"pulp-ansible config create\" first")
		}
		return fmt.Errorf("unable to load config file: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number of pulp-ansible",
		Annotations: map[string]string{"config": "skip"},
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), map[string]string{"version": cliVersion})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "pulp-ansible %s\n", cliVersion)
			}
		},
	}
}

// printJSON prints the given value as indented JSON
func printJSON(w io.Writer, data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(jsonData))
}
