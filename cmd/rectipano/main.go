package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"rectipano/internal/backend"
	"rectipano/internal/cli"
	"rectipano/internal/config"
	"rectipano/internal/logging"
	"rectipano/internal/pipeline"
	"rectipano/internal/rectify"
	"rectipano/internal/storage"
	"rectipano/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// --config must be known before the logger, store and backends exist,
	// so it is read ahead of cobra.
	pre := pflag.NewFlagSet("rectipano", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	cfgPath := pre.String("config", config.Path(), "config file path")
	pre.BoolP("help", "h", false, "")
	_ = pre.Parse(os.Args[1:])

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", *cfgPath, err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	set, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}
	defer set.Close()

	engine := rectify.NewEngine(cfg.Geometry, set.Warper, set.Smoother)
	runner := tasks.NewRunner(engine, store, logger)
	runner.Workers = cfg.Processing.FrameWorkers
	runner.Quality = cfg.Output.JPEGQuality
	runner.SessionFile = cfg.Output.SessionFile
	runner.PointsFile = cfg.Output.PointsFile

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, runner)
	defer pipe.Stop()

	root := cli.NewRoot(pipe, runner, cfg, *cfgPath, logger, store)
	return cli.NewRootCmd(root).ExecuteContext(ctx)
}
