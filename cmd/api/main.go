package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"coursesearch/internal/api"
	"coursesearch/internal/app"
	"coursesearch/internal/config"
	"coursesearch/internal/logging"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadFile(os.Getenv("COURSESEARCH_CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.Build(ctx, cfg, logger)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	deps := api.Deps{
		Config:      cfg,
		Logger:      logger,
		Aggregator:  a.Aggregator,
		Embedder:    a.Embedder,
		Store:       a.Store,
		Regenerator: a.Regenerator,
	}
	tc, err := tclient.Dial(tclient.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		logger.Warn("temporal unavailable, regeneration runs in-process", "address", cfg.TemporalAddress, "err", err)
	} else {
		defer tc.Close()
		deps.Temporal = tc
	}

	h := api.NewServer(deps)
	logger.Info("coursesearch api listening", "addr", cfg.APIAddr, "embed_providers", cfg.EmbedProviders, "workflows", tc != nil)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
