package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configServer       string
	configURLNamespace string
	configDomain       string
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Create or show the CLI configuration",
	Annotations: map[string]string{"config": "skip"},
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a configuration file",
	Long: `Write a configuration file pointing the CLI at a server.

Example:
  pulp-ansible config create --server localhost:24817 --url-namespace api`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &Config{
			Version:      "1",
			Server:       MorphServer(configServer),
			URLNamespace: configURLNamespace,
			Domain:       configDomain,
		}
		if err := cfg.ValidateConfig(); err != nil {
			return err
		}
		file := configFile
		if file == "" {
			var err error
			if file, err = GetDefaultConfigPath(); err != nil {
				return err
			}
		}
		if err := cfg.WriteConfig(file); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", file)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := LoadConfig(configFile); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), GetConfig())
			return nil
		}
		GetConfig().Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCreateCmd, configShowCmd)

	configCreateCmd.Flags().StringVar(&configServer, "server", "", "Server address, e.g. localhost:24817")
	configCreateCmd.Flags().StringVar(&configURLNamespace, "url-namespace", "api", "Path the server APIs are mounted under")
	configCreateCmd.Flags().StringVar(&configDomain, "domain", "", "Domain to manage")
	configCreateCmd.MarkFlagRequired("server")
}
