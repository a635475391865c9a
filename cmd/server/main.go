// Command server runs the groupwrite HTTP API: group chat messages are
// buffered per group, turned into drafts by an LLM, voted on and committed
// to the group's consensus document.
//
// @title        Groupwrite API
// @version      1.0
// @description  Group consensus documents: chat messages become drafts, the group votes, approved drafts become the document.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/config"
	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/generator"
	httpapi "github.com/tbourn/groupwrite/internal/http"
	"github.com/tbourn/groupwrite/internal/ledger"
	"github.com/tbourn/groupwrite/internal/observability"
	"github.com/tbourn/groupwrite/internal/publish"
	"github.com/tbourn/groupwrite/internal/repo"
	"github.com/tbourn/groupwrite/internal/services"
	"github.com/tbourn/groupwrite/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stderr, cfg.LogPretty)
	log.Logger = logger
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			logger.Fatal().Err(err).Msg("gorm tracing")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gen, err := generator.NewOpenAI(generator.Config{
		APIKey:  cfg.Integration.OpenAIKey,
		BaseURL: cfg.Integration.OpenAIBaseURL,
		Model:   cfg.Integration.OpenAIModel,
		Timeout: cfg.Consensus.GenerationTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("draft generator (set OPENAI_API_KEY)")
	}

	var (
		rewardLedger consensus.Ledger
		publisher    consensus.Publisher = publish.Log{Logger: logger}
		stream       *publish.RedisStream
	)
	if strings.TrimSpace(cfg.Integration.LedgerURL) != "" {
		am, err := ledger.NewAgentMarket(cfg.Integration.LedgerURL, cfg.Integration.LedgerAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("reward ledger")
		}
		rewardLedger = am
	} else {
		logger.Warn().Msg("LEDGER_URL not set: approved drafts are committed without rewards")
	}
	if strings.TrimSpace(cfg.Integration.RedisURL) != "" {
		stream, err = publish.NewRedisStream(cfg.Integration.RedisURL, strings.TrimSuffix(cfg.Integration.StreamPrefix, ":")+":")
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer stream.Close()
		publisher = stream
	}

	groupsCfg, err := config.LoadGroups(cfg.Consensus.GroupsFile, cfg.Consensus.RewardPrecision)
	if err != nil {
		logger.Fatal().Err(err).Msg("groups file")
	}

	rewardsCfg := consensus.DispatcherConfig{
		Total:       cfg.Consensus.RewardTotal,
		Places:      cfg.Consensus.RewardPrecision,
		SplitPolicy: cfg.Consensus.RewardSplitPolicy,
		MaxAttempts: cfg.Consensus.LedgerMaxAttempts,
		NewBackOff:  newBackOff(cfg.Consensus.LedgerBackoffMin, cfg.Consensus.LedgerBackoffMax),
		Logger:      logger,
	}
	groups := services.NewGroupService(db, gen, publisher, rewardLedger, services.GroupDefaults{
		Threshold: cfg.Consensus.BufferThreshold,
		Retrigger: consensus.RetriggerPolicy(cfg.Consensus.RetriggerPolicy),
		Rule: consensus.Rule{
			Quorum:          cfg.Consensus.VoteQuorum,
			ApprovalMargin:  cfg.Consensus.ApprovalMargin,
			RejectionMargin: cfg.Consensus.RejectionMargin,
			TTL:             cfg.Consensus.VotingTTL,
		},
		GenerationTimeout: cfg.Consensus.GenerationTimeout,
		Rewards:           rewardsCfg,
	}, groupOverrides(groupsCfg), logger)

	// RewardService persists manual rewards and their reconciliation entries.
	rewards := services.NewRewardService(db, nil)
	rewards.Places = cfg.Consensus.RewardPrecision
	if rewardLedger != nil {
		rewards.Submitter = consensus.NewDispatcher(rewardLedger, nil, rewardsCfg)
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Services{
		Groups:    groups,
		Rewards:   rewards,
		Instances: &services.InstanceService{DB: db},
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if stream != nil {
		consumer := publish.NewInboundConsumer(stream.Client(), stream.Prefix(), logger)
		go func() {
			logger.Info().Str("stream", consumer.Stream()).Msg("consuming inbound chat events")
			if err := consumer.Run(ctx, "$", groups); err != nil {
				logger.Error().Err(err).Msg("inbound consumer stopped")
			}
		}()
	}

	go maintenance(ctx, cfg.Consensus.SweepInterval, groups, db, logger)

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Int("groups_configured", len(groupsCfg)).Msg("groupwrite listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	groups.Close()
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newBackOff returns a factory of exponential backoffs between lo and hi.
func newBackOff(lo, hi time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = lo
		b.MaxInterval = hi
		return b
	}
}

func groupOverrides(in map[string]config.GroupConfig) map[string]services.GroupOverride {
	out := make(map[string]services.GroupOverride, len(in))
	for id, g := range in {
		out[id] = services.GroupOverride{
			InstanceID:     g.InstanceID,
			Threshold:      g.BufferThreshold,
			ApprovalMargin: g.ApprovalMargin,
			VotingTTL:      g.VotingTTL,
			RewardTotal:    g.RewardTotal,
		}
	}
	return out
}

// maintenance sweeps voting deadlines and purges expired idempotency keys
// until ctx is cancelled.
func maintenance(ctx context.Context, every time.Duration, groups *services.GroupService, db *gorm.DB, logger zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			groups.Sweep(ctx)
			if n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC()); err != nil {
				logger.Warn().Err(err).Msg("purge idempotency keys")
			} else if n > 0 {
				logger.Debug().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
	}
}
