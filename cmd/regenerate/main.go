package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coursesearch/internal/app"
	"coursesearch/internal/cli"
	"coursesearch/internal/config"
	"coursesearch/internal/logging"
	"coursesearch/internal/util"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, build, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func build(ctx context.Context, opts cli.BuildOptions) (*cli.Env, error) {
	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("COURSESEARCH_CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrValidation, err)
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	a, err := app.Build(ctx, cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return nil, err
	}
	return &cli.Env{Runner: a.Regenerator, Content: a.Aggregator, Close: a.Close}, nil
}
