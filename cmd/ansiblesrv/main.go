package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/apis"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/server"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/logtrace"
	"github.com/rs/zerolog/log"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile *string
}

func main() {
	slog := log.With().Str("state", "init").Logger()
	opt := parseFlags()

	slog.Info().Str("config_file", *opt.configFile).Msg("loading config file")
	cfg, err := config.LoadConfig(*opt.configFile)
	if err != nil {
		slog.Error().Str("config_file", *opt.configFile).Err(err).Msg("unable to load config file")
		os.Exit(1)
	}
	logtrace.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	d, err := db.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error().Err(err).Str("type", cfg.Database.Type).Msg("unable to open catalog database")
		os.Exit(1)
	}
	defer d.Close(context.Background())

	store, err := artifactstore.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error().Err(err).Str("type", cfg.Storage.Type).Msg("unable to open artifact storage")
		os.Exit(1)
	}
	store.SetReferenceChecker(d)

	runner := tasks.NewRunner(d, cfg.Sync.ConcurrentTasks, cfg.Sync.Deadline.Duration)
	cleaner := orphans.New(d, store)
	services := &apis.Services{
		Config:  cfg,
		Store:   store,
		Tasks:   runner,
		Syncer:  syncer.New(d, store, syncer.OptionsFromConfig(cfg)),
		Orphans: cleaner,
		Client:  galaxyclient.OptionsFromConfig(cfg),
	}
	go cleaner.Run(ctx, cfg.Orphans.Interval.Duration, cfg.Orphans.Grace.Duration)

	s, err := server.CreateNewServer(d, services)
	if err != nil {
		slog.Error().Err(err).Msg("unable to create server")
		os.Exit(1)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
		if err := runner.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tasks did not stop in time")
		}
	}()

	slog.Info().Str("port", cfg.ServerPort).Str("storage", store.Backend()).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	opt.configFile = flag.String("config", catcommon.DefaultConfigFile, "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
