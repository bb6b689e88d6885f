package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hackclub/siege/auth"
	"github.com/hackclub/siege/ballots"
	"github.com/hackclub/siege/betting"
	"github.com/hackclub/siege/calendar"
	"github.com/hackclub/siege/config"
	"github.com/hackclub/siege/flags"
	"github.com/hackclub/siege/hackatime"
	"github.com/hackclub/siege/jobs"
	"github.com/hackclub/siege/ledger"
	"github.com/hackclub/siege/lifecycle"
	"github.com/hackclub/siege/models"
	"github.com/hackclub/siege/notify"
	"github.com/hackclub/siege/observability"
	"github.com/hackclub/siege/observability/logging"
	"github.com/hackclub/siege/server"
	"github.com/hackclub/siege/shop"
)

// hoursSource adapts the lifecycle time measurements to per-project hour
// lookups for the betting engine.
type hoursSource struct {
	life *lifecycle.Service
}

func (h hoursSource) ProjectHours(ctx context.Context, owner *models.User, project *models.Project) float64 {
	return float64(h.life.TrackedSeconds(ctx, owner, project)) / 3600
}

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    "sieged",
		Env:        cfg.Log.Env,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	shutdownTracing, err := observability.SetupTracing(context.Background(), observability.TracingConfig{
		ServiceName: "sieged",
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("tracing setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("database connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cal, err := calendar.New(cfg.EventStartDate)
	if err != nil {
		logger.Error("invalid event start date", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fl := flags.NewStatic(nil)
	notifier := notify.NewSlack(cfg.Slack.WebhookURL, logger)

	statsClient := hackatime.NewClient(hackatime.ClientConfig{
		BaseURL:        cfg.Hackatime.BaseURL,
		APIKey:         cfg.Hackatime.APIKey,
		TeamPrefix:     cfg.Hackatime.TeamPrefix,
		ConnectTimeout: cfg.Hackatime.ConnectTimeout.Duration(),
		ReadTimeout:    cfg.Hackatime.ReadTimeout.Duration(),
		RatePerMinute:  cfg.Hackatime.RatePerMinute,
	})
	agg := hackatime.NewAggregator(statsClient, logger)

	life := lifecycle.New(db, cal, agg, fl, notifier, nil, logger)
	hours := hoursSource{life: life}

	led := ledger.New(db, logger)
	ballotEngine := ballots.New(db, cal, fl, logger)
	betEngine := betting.New(db, cal, fl, hours, logger)
	shopFront := shop.New(db, cal, logger)

	httpObs := observability.NewHTTP(observability.Config{
		ServiceName: "sieged",
		LogRequests: cfg.Log.Env != "prod",
		Enabled:     true,
	}, logger)

	srv := server.New(server.Config{
		DB:         db,
		Verifier:   auth.NewVerifier(cfg.AuthSecret),
		Calendar:   cal,
		Lifecycle:  life,
		Ballots:    ballotEngine,
		Betting:    betEngine,
		Shop:       shopFront,
		Ledger:     led,
		HTTP:       httpObs,
		Logger:     logger,
		EventWeeks: cfg.EventWeeks,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := jobs.New(jobs.Config{
		DB:        db,
		Calendar:  cal,
		Lifecycle: life,
		Betting:   betEngine,
		Logger:    logger,
	})
	runner.Start(ctx,
		cfg.Jobs.SweepInterval.Duration(),
		cfg.Jobs.SnapshotInterval.Duration(),
		cfg.Jobs.ExportInterval.Duration(),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("sieged listening", slog.String("addr", cfg.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
