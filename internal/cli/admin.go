package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	srvconfig "github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var adminFlags struct {
	serverConfig string
	domain       string
	grace        time.Duration
}

// adminCmd operates on the server's database and storage directly, using
// the server configuration file.
var adminCmd = &cobra.Command{
	Use:         "admin",
	Short:       "Maintenance operations run against the server's database",
	Annotations: map[string]string{"config": "skip"},
}

func openCatalog(ctx context.Context) (*srvconfig.ConfigParam, db.DB_, error) {
	cfg, err := srvconfig.LoadConfig(adminFlags.serverConfig)
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open catalog database: %w", err)
	}
	return cfg, d, nil
}

var adminMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := log.Logger.WithContext(cmd.Context())
		_, d, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer d.Close(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		return nil
	},
}

var adminReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the collection search index of a domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := log.Logger.WithContext(cmd.Context())
		_, d, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		dom, aerr := d.GetDomainByName(ctx, adminFlags.domain)
		if aerr != nil {
			return fmt.Errorf("domain %s: %w", adminFlags.domain, aerr)
		}
		ctx = catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: dom.DomainID, Name: dom.Name})
		n, aerr := d.RefreshSearchVectors(ctx)
		if aerr != nil {
			return aerr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d collection versions\n", n)
		return nil
	},
}

var adminOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Delete orphaned content and artifacts of every domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := log.Logger.WithContext(cmd.Context())
		cfg, d, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer d.Close(ctx)

		store, err := artifactstore.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		store.SetReferenceChecker(d)
		grace := cfg.Orphans.Grace.Duration
		if cmd.Flags().Changed("grace") {
			grace = adminFlags.grace
		}
		res, err := orphans.New(d, store).Cleanup(ctx, grace)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), res)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d content units, %d collections, %d artifacts\n",
			res.Content, res.Collections, res.Artifacts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminMigrateCmd, adminReindexCmd, adminOrphansCmd)
	adminCmd.PersistentFlags().StringVar(&adminFlags.serverConfig, "server-config", catcommon.DefaultConfigFile, "Path to the server configuration file")
	adminReindexCmd.Flags().StringVar(&adminFlags.domain, "domain", catcommon.DefaultDomainName, "Domain to reindex")
	adminOrphansCmd.Flags().DurationVar(&adminFlags.grace, "grace", 0, "Keep orphans younger than this")
}
