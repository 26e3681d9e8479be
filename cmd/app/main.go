package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/local/notesync/internal/assembler"
	cfgpkg "github.com/local/notesync/internal/config"
	"github.com/local/notesync/internal/custompdf"
	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/evaluation"
	"github.com/local/notesync/internal/imagerender"
	logpkg "github.com/local/notesync/internal/logger"
	"github.com/local/notesync/internal/metrics"
	"github.com/local/notesync/internal/notify"
	"github.com/local/notesync/internal/pageasset"
	"github.com/local/notesync/internal/statuscheck"
	"github.com/local/notesync/internal/store"
	"github.com/local/notesync/internal/web"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	logOpts := logpkg.Options{
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		Service: "notesync",
		File: logpkg.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	}
	if cfg.Axiom.Send {
		logOpts.Axiom = logpkg.AxiomOptions{
			Token:      cfg.Axiom.APIKey,
			OrgID:      cfg.Axiom.OrgID,
			Dataset:    cfg.Axiom.Dataset,
			FlushEvery: cfg.Axiom.FlushInterval,
		}
	}
	if err := logpkg.Init(logOpts); err != nil {
		log.Error().Err(err).Msg("logger init failed, continuing with console output")
	}
	defer logpkg.Close()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Directory
	db, err := directory.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	repo := directory.NewRepository(db)

	// Blob store
	blobs, closeBlobs, err := buildBlobStore(ctx, cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Blob.Backend).Msg("failed to init blob store")
	}
	defer closeBlobs()

	// Redis is optional: without it locks stay in-process and breakers are disabled
	var (
		locker evaluation.Locker = evaluation.NewLocalLocker()
		runs   *store.RedisRunStatus
		redisP statuscheck.Pinger
	)
	publishers := []notify.Publisher{}
	rc, err := connectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rc != nil {
		defer rc.Close()
		locker = store.NewRedisWeekLock(rc, cfg.Evaluation.LockTTL)
		runs = store.NewRedisRunStatus(rc, 30*24*time.Hour)
		publishers = append(publishers, notify.NewRedisStream(rc, cfg.Notify.Stream))
		redisP = statuscheck.PingFunc(func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.Notify.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		publishers = append(publishers, notify.NewNATS(nc, cfg.Notify.NATSSubject))
	}
	notifier := notify.NewSink(repo, logpkg.Component("notify"), publishers...)

	// Page assets
	color := imagerender.ColorRGB
	if cfg.Raster.Grayscale {
		color = imagerender.ColorGray
	}
	cache := pageasset.New(blobs, imagerender.New(cfg.Raster.DPI, cfg.Raster.Quality, color),
		pageasset.Options{DPI: cfg.Raster.DPI, Quality: cfg.Raster.Quality})

	// Scoring + scheduler
	scorer, err := buildScorer(cfg.Providers, rc)
	if err != nil {
		log.Warn().Err(err).Msg("no scoring provider configured, manual and scheduled evaluation disabled")
	}
	var sched *evaluation.Scheduler
	if scorer != nil {
		deps := evaluation.Dependencies{
			Directory: repo,
			Pages:     cache,
			Scorer:    scorer,
			Notifier:  notifier,
			Locker:    locker,
			Logger:    logpkg.Component("evaluation"),
		}
		if runs != nil {
			deps.Runs = runs
		}
		sched = evaluation.New(deps, evaluation.Options{
			Interval:      cfg.Evaluation.Interval,
			ScoreTimeout:  cfg.Evaluation.ScoreTimeout,
			MaxAttempts:   cfg.Evaluation.MaxAttempts,
			FeedbackLimit: cfg.Evaluation.FeedbackLimit,
		})
		if cfg.Evaluation.Enabled {
			if err := sched.Start(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to start scheduler")
			}
		}
	}

	// HTTP
	engine := assembler.NewPDFCPU()
	webDeps := web.Dependencies{
		Directory:  repo,
		Store:      blobs,
		Pages:      cache,
		CustomPDFs: custompdf.NewService(repo, blobs, engine, validator.New(), logpkg.Component("custompdf")),
		Readiness: statuscheck.New(statuscheck.Options{
			Database:     statuscheck.PingFunc(func(ctx context.Context) error { return directory.Ping(ctx, db) }),
			Redis:        redisP,
			Blob:         pingerOf(blobs),
			BlobBackend:  cfg.Blob.Backend,
			OpenAIKey:    cfg.Providers.OpenAIKey,
			AnthropicKey: cfg.Providers.AnthropicKey,
		}),
		Notifier:       notifier,
		PDF:            engine,
		Logger:         logpkg.Component("web"),
		MaxUploadBytes: cfg.Blob.MaxUploadBytes,
		SignedURLTTL:   cfg.Blob.SignedURLTTL,
	}
	if sched != nil {
		webDeps.Evaluator = sched
	}
	if runs != nil {
		webDeps.Runs = runs
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           web.New(webDeps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("scheduler did not stop cleanly")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	log.Info().Msg("shutdown complete")
}
