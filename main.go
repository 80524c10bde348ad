package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"oddsflow/config"
	"oddsflow/internal/metrics"
	"oddsflow/internal/pipeline"
	"oddsflow/logger"
	"oddsflow/reader"
	"oddsflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default config/config.yml, or config/config.<APP_ENV>.yml when present)")
	threshold := flag.Float64("threshold", -1, "Override pipeline.threshold; negative keeps the configured value")
	flag.Parse()

	env := config.AppEnvironment()
	path := config.ResolvePath(*configPath)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *threshold >= 0 {
		cfg.Pipeline.Threshold = *threshold
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Oddsflow.Name,
		"version":     cfg.Oddsflow.Version,
		"environment": env,
		"config":      path,
		"source":      cfg.Source.Kind,
		"sink":        cfg.Storage.Sink,
		"destination": cfg.Destination(),
		"threshold":   cfg.Pipeline.Threshold,
	}).Info("starting oddsflow")

	if config.IsProductionLike(env) && cfg.Source.Kind == config.SourceFixture {
		log.WithComponent("main").Warn("fixture quote source configured in a production environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	source, err := reader.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to create quote source")
		os.Exit(1)
	}

	sink, err := writer.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to create table sink")
		os.Exit(1)
	}
	defer sink.Close()

	recorder := metrics.NewRecorder()
	p := pipeline.New(source, sink, log,
		pipeline.WithThreshold(cfg.Pipeline.Threshold),
		pipeline.WithWorkers(cfg.Processor.MaxWorkers),
		pipeline.WithTablePrefix(cfg.Pipeline.TablePrefix),
		pipeline.WithRecorder(recorder),
	)

	summary, runErr := p.Run(ctx)

	if cfg.Metrics.Pushgateway.URL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := recorder.Push(pushCtx, cfg.Metrics.Pushgateway.URL, cfg.Metrics.Pushgateway.Job, summary.RunID); err != nil {
			log.WithError(err).Warn("failed to push run metrics")
		}
		cancel()
	}

	if runErr != nil {
		log.WithError(runErr).WithFields(logger.Fields{"run_id": summary.RunID}).Error("pipeline run failed")
		sink.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.WithError(err).Warn("failed to print run summary")
	}

	log.Info("oddsflow stopped")
}
