package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"filewatch/internal/cli"
	"filewatch/internal/config"
	"filewatch/internal/eventlog"
	"filewatch/internal/eventsink"
	"filewatch/internal/lifecycle"
	"filewatch/internal/reader"
	"filewatch/internal/util/logger/handlers/slogpretty"
	"filewatch/internal/util/logger/sl"
	"filewatch/internal/watcher"
)

func main() {
	// Создаем контекст с отменой для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		cancel()
	}()

	if err := cli.NewRootCommand(cli.NewAppContext(run)).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := setupLogger(cfg.Env)

	log.Info("starting filewatch",
		slog.String("env", cfg.Env),
		slog.String("path", cfg.WatchFilePath),
		slog.String("strategy", cfg.Strategy),
	)

	sinks := []eventsink.Sink{eventsink.NewSlogSink(log)}
	if cfg.EventLog.Path != "" {
		store, err := eventlog.Open(eventlog.Config{
			Path:       cfg.EventLog.Path,
			MaxEntries: cfg.EventLog.MaxEntries,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	// оба значения уже проверены в config.Validate
	strategy, _ := watcher.ParseStrategy(cfg.Strategy)
	policy, _ := watcher.ParseReadErrorPolicy(cfg.ReadErrorPolicy)

	registry := prometheus.NewRegistry()
	metrics := watcher.NewMetrics(registry)
	fileReader := reader.New(afero.NewOsFs(), reader.Config{
		Attempts: cfg.Read.Attempts,
		Delay:    cfg.Read.Delay,
	})

	aborted := make(chan error, 1)
	lc := lifecycle.New(lifecycle.Config{
		NewDetector: func() (watcher.Detector, error) {
			return watcher.New(watcher.Config{
				Strategy:        strategy,
				PollInterval:    cfg.PollInterval,
				ReadErrorPolicy: policy,
				Reader:          fileReader,
				Logger:          log,
				Metrics:         metrics,
			})
		},
		Sink:   eventsink.Multi(sinks...),
		Logger: log,
		OnAbort: func(err error) {
			select {
			case aborted <- err:
			default:
			}
		},
	})

	if err := lc.Start(ctx, cfg.WatchFilePath); err != nil {
		log.Error("failed to start watch", sl.Err(err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info("shutdown signal received")
			return lc.Stop()
		case err := <-aborted:
			return fmt.Errorf("watch ended: %w", err)
		}
	})

	if cfg.Metrics.Textfile != "" {
		g.Go(func() error {
			return writeMetrics(gctx, log, registry, cfg.Metrics.Textfile, cfg.Metrics.Interval)
		})
	}

	err := g.Wait()
	if stopErr := lc.Stop(); stopErr != nil {
		log.Error("failed to stop watch", sl.Err(stopErr))
	}

	if err != nil {
		log.Error("filewatch stopped", sl.Err(err))
		return err
	}
	log.Info("filewatch stopped gracefully")
	return nil
}

// writeMetrics обновляет textfile для node-exporter до отмены ctx
// и записывает его последний раз при выходе
func writeMetrics(ctx context.Context, log *slog.Logger, g prometheus.Gatherer, path string, interval time.Duration) error {
	const op = "main.writeMetrics"
	log = log.With(slog.String("op", op))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return prometheus.WriteToTextfile(path, g)
		case <-ticker.C:
			if err := prometheus.WriteToTextfile(path, g); err != nil {
				log.Warn("failed to write metrics", slog.String("path", path), sl.Err(err))
			}
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		if term.IsTerminal(int(os.Stdout.Fd())) {
			log = setupPrettySlog()
		} else {
			log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	case config.EnvDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
