package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	"github.com/valyala/fasthttp"

	"github.com/riskibarqy/playfab-go/internal/config"
	reportpg "github.com/riskibarqy/playfab-go/internal/infrastructure/report/postgres"
	"github.com/riskibarqy/playfab-go/internal/observability"
	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/internal/platform/resilience"
	"github.com/riskibarqy/playfab-go/internal/smoke"
	"github.com/riskibarqy/playfab-go/playfab"
	"github.com/riskibarqy/playfab-go/playfab/client"
	"github.com/riskibarqy/playfab-go/playfab/entity"
	"github.com/riskibarqy/playfab-go/playfab/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSON(logging.LevelInfo).Error("load config", "error", err)
		return 1
	}

	logger := logging.NewJSON(cfg.LogLevel)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uptraceShutdown, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		logger.Error("init uptrace", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := uptraceShutdown(shutdownCtx); err != nil {
			logger.Error("uptrace shutdown failed", "error", err)
		}
	}()

	pyroscopeStop, err := observability.InitPyroscope(cfg, logger)
	if err != nil {
		logger.Error("init pyroscope", "error", err)
		return 1
	}
	defer func() {
		if err := pyroscopeStop(); err != nil {
			logger.Error("pyroscope stop failed", "error", err)
		}
	}()

	var recorder smoke.Recorder
	var store *reportpg.Store
	if cfg.SmokeDBEnabled {
		db, err := otelsqlx.Connect("postgres", cfg.SmokeDBURL,
			otelsql.WithDBSystem("postgresql"),
			otelsql.WithDBName("smoke"),
		)
		if err != nil {
			logger.Error("connect report db", "error", err)
			return 1
		}
		defer func() {
			_ = db.Close()
		}()
		store = reportpg.NewStore(db)
		recorder = store
		logger.Info("smoke run reports enabled")
	}

	factory := newAPIFactory(cfg, logger)
	runner := smoke.NewRunner(factory, smoke.Config{
		CustomID:           cfg.CustomID,
		DeveloperSecretKey: cfg.DeveloperSecretKey,
		Iterations:         cfg.SmokeIterations,
		Workers:            cfg.SmokeWorkers,
	}, logger, recorder)

	result, err := runner.Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "smoke run aborted", "error", err)
		return 1
	}

	logger.InfoContext(ctx, "smoke run finished",
		"run_id", result.RunID,
		"title_id", result.TitleID,
		"iterations", result.Iterations,
		"ok", result.OKCount,
		"failed", result.FailedCount,
		"expected_failures", result.ExpectedFailureCount,
	)

	if store != nil {
		history, err := store.LatestRuns(ctx, 5)
		if err != nil {
			logger.WarnContext(ctx, "read run history", "error", err)
		} else {
			for _, past := range history {
				logger.InfoContext(ctx, "recent run",
					"run_id", past.RunID,
					"started_at", past.StartedAt,
					"ok", past.OKCount,
					"failed", past.FailedCount,
					"expected_failures", past.ExpectedFailureCount,
				)
			}
		}
	}

	if result.Failed() {
		return 1
	}
	return 0
}

// newAPIFactory returns a factory producing one independent API bundle per
// smoke iteration. The secret key is left unset here; the runner installs it
// at the step that exercises server authentication.
func newAPIFactory(cfg config.Config, logger *logging.Logger) smoke.Factory {
	return func() smoke.APIs {
		tcfg := playfab.TransportConfig{
			Settings: playfab.Settings{
				TitleID: cfg.TitleID,
				BaseURL: cfg.BaseURL,
			},
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Tracing:    cfg.UptraceEnabled,
			Logger:     logger,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.CircuitEnabled,
				FailureThreshold: cfg.CircuitFailureCount,
				OpenTimeout:      cfg.CircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.CircuitHalfOpenMaxReq,
			},
		}
		if !cfg.UptraceEnabled {
			// The fasthttp backend has no otel instrumentation; only use it
			// when tracing is off.
			tcfg.HTTPClient = playfab.NewFastHTTPDoer(&fasthttp.Client{
				ReadTimeout:  cfg.Timeout,
				WriteTimeout: cfg.Timeout,
			}, cfg.Timeout)
		}

		transport := playfab.NewTransport(tcfg)
		clientAPI := client.New(transport, logger)
		entityAPI := entity.New(entity.Config{
			Transport:  transport,
			AuthSource: clientAPI,
			Logger:     logger,
			TokenTTL:   cfg.EntityTokenTTL,
		})
		serverAPI := server.New(transport, logger)

		return smoke.APIs{
			Transport: transport,
			Client:    clientAPI,
			Entity:    entityAPI,
			Server:    serverAPI,
		}
	}
}
