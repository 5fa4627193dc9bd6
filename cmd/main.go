package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dupescan/config"
	"dupescan/logger"
	"dupescan/objstore"
	"dupescan/output"
	"dupescan/pipeline"
	"dupescan/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	logger.Init(cfg.LogLevel)

	if err := tracing.Start(cfg.TraceFile); err != nil {
		logger.Warnf("Failed to start trace: %v", err)
	} else {
		defer tracing.Stop()
	}

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, cfg.TraceFlight, cfg.TraceFlightFile)

	loc, err := objstore.ParseURL(cfg.Source)
	if err != nil {
		logger.Errorf("Invalid source: %v", err)
		return 1
	}
	store, err := objstore.ForLocation(ctx, loc, objstore.Options{
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		PathStyle:      cfg.PathStyle,
		MaxAttempts:    cfg.ClientMaxAttempts,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioSecure:    cfg.MinioSecure,
	})
	if err != nil {
		logger.Errorf("Failed to initialize store: %v", err)
		return 1
	}

	report, err := pipeline.Run(ctx, cfg, store)
	if err != nil {
		logger.Errorf("Scan failed: %v", err)
		return 1
	}

	writer, err := output.New(cfg)
	if err != nil {
		logger.Errorf("Failed to initialize output: %v", err)
		return 1
	}
	defer writer.Close()

	files, err := writer.Write(report)
	if err != nil {
		logger.Errorf("Failed to write report: %v", err)
		return 1
	}
	for _, name := range files {
		logger.Infof("Report written to %s", name)
	}
	if ctx.Err() != nil {
		logger.Warn("Scan was interrupted; the report only covers objects processed before shutdown.")
	}
	return 0
}

func handleSignals(cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	handleSignalEvent(cancelFunc, traceFlight, traceFlightFile, sigChan)
}

func handleSignalEvent(cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string, sigChan <-chan os.Signal) {
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
	}

	cancelFunc()
}
