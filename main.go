package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"signal-council/config"
	"signal-council/internal/adaptive"
	"signal-council/internal/aggregator"
	"signal-council/internal/api"
	"signal-council/internal/auth"
	"signal-council/internal/backtest"
	"signal-council/internal/cache"
	"signal-council/internal/detector"
	"signal-council/internal/engine"
	"signal-council/internal/events"
	"signal-council/internal/logging"
	"signal-council/internal/market"
	"signal-council/internal/registry"
	"signal-council/internal/secrets"
	"signal-council/internal/store"
	"signal-council/internal/telemetry"
	"signal-council/internal/tuner"
)

func main() {
	cfgManager := config.NewManager("config.json")
	cfg := cfgManager.Get()

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.WithComponent("main")
	log.Info("signal council starting")

	bus := events.NewEventBus()
	reg := registry.New()

	// Vault-managed credentials override config values when available.
	dbPassword := cfg.DatabaseConfig.Password
	redisPassword := cfg.RedisConfig.Password
	if cfg.VaultConfig.Enabled {
		vaultClient, err := secrets.NewClient(secrets.Config{
			Enabled:    true,
			Address:    cfg.VaultConfig.Address,
			Token:      cfg.VaultConfig.Token,
			MountPath:  cfg.VaultConfig.MountPath,
			SecretPath: cfg.VaultConfig.SecretPath,
			TLSEnabled: cfg.VaultConfig.TLSEnabled,
			CACert:     cfg.VaultConfig.CACert,
		})
		if err != nil {
			log.WithError(err).Warn("vault unavailable, using config credentials")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if creds, err := vaultClient.Get(ctx, "postgres"); err == nil {
				dbPassword = creds["password"]
			}
			if creds, err := vaultClient.Get(ctx, "redis"); err == nil {
				redisPassword = creds["password"]
			}
			cancel()
		}
	}

	// Persistence is optional: scoring runs fine without it, only tuning-run
	// history and the amendment audit trail are lost.
	var db *store.DB
	var repo *store.Repository
	if cfg.DatabaseConfig.Enabled {
		storeLog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "store").Logger()
		var err error
		db, err = store.NewDB(store.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: dbPassword,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, storeLog)
		if err != nil {
			log.WithError(err).Warn("database unavailable, running without persistence")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.RunMigrations(ctx); err != nil {
				log.WithError(err).Error("migrations failed")
				db.Close()
				db = nil
			} else {
				repo = store.NewRepository(db)
			}
			cancel()
		}
	}

	var verdictCache *cache.VerdictCache
	if cfg.RedisConfig.Enabled {
		vc, err := cache.NewVerdictCache(cache.Config{
			Enabled:  true,
			Address:  cfg.RedisConfig.Address,
			Password: redisPassword,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err != nil {
			log.WithError(err).Warn("verdict cache unavailable")
		} else {
			verdictCache = vc
		}
	}

	table, err := detector.NewTable(
		detector.NewTrendDetector(),
		detector.NewMomentumDetector(),
		detector.NewVolumeDetector(),
		detector.NewFVGDetector(),
		detector.NewEngulfingDetector(),
	)
	if err != nil {
		log.WithError(err).Fatal("detector table construction failed")
	}

	learner := adaptive.New(cfg.AdaptiveConfig.ToAdaptiveConfig(),
		telemetry.NewFileReader(cfg.ScoringConfig.TelemetryPath))
	agg := aggregator.New(aggregator.Config{
		BuyThreshold:  cfg.ThresholdsConfig.BuyScore,
		SellThreshold: cfg.ThresholdsConfig.SellScore,
		MinConfidence: cfg.ThresholdsConfig.MinConfidence,
	}, learner)

	loader := market.NewClient("")

	eng := engine.New(engine.Config{
		Symbols:           cfg.ScoringConfig.Symbols,
		Timeframes:        cfg.ScoringConfig.Timeframes,
		BroadcastInterval: time.Duration(cfg.ScoringConfig.BroadcastIntervalSec) * time.Second,
		DetectorTimeout:   time.Duration(cfg.ScoringConfig.DetectorTimeoutMs) * time.Millisecond,
		WorkerCount:       cfg.ScoringConfig.WorkerCount,
		LookbackDays:      30,
	}, reg, table, loader, agg, verdictCache, bus)

	var tuningManager *tuner.Manager
	if cfg.TuningConfig.Enabled {
		tunerCfg := cfg.TuningConfig.ToTunerConfig()
		runner := backtest.NewRunner(backtest.Options{
			InitialBalance: cfg.TuningConfig.InitialBalance,
		})
		t := tuner.New(tunerCfg, loader, runner, eng.TunerScoreBuilder(), 0)

		var tuningStore tuner.Store
		if repo != nil {
			tuningStore = repo
		}
		promote := func(weights map[string]float64, reason string) error {
			agg.SetStaticWeights(weights)
			log.Info("tuned category weights promoted", "reason", reason)
			return nil
		}
		tuningManager = tuner.NewManager(tunerCfg, t, bus, tuningStore, promote)
	}

	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService = auth.NewService(
			cfg.AuthConfig.JWTSecret,
			cfg.AuthConfig.AccessTokenDuration,
			cfg.AuthConfig.AdminUser,
			cfg.AuthConfig.AdminPasswordHash,
		)
	}

	var archive api.Archive
	if repo != nil {
		archive = repo
	}
	server := api.NewServer(api.Config{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: true,
	}, reg, eng, tuningManager, authService, bus, archive, cfgManager)

	scheduler := cron.New()
	if tuningManager != nil && cfg.TuningConfig.Schedule != "" {
		if _, err := scheduler.AddFunc(cfg.TuningConfig.Schedule, func() {
			if _, err := tuningManager.StartRun(context.Background(), adaptive.DefaultCategoryWeights()); err != nil {
				log.WithError(err).Warn("scheduled tuning run failed to start")
			}
		}); err != nil {
			log.WithError(err).Error("invalid tuning schedule", "schedule", cfg.TuningConfig.Schedule)
		}
	}
	scheduler.Start()

	eng.Start()
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	eng.Stop()

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}

	if verdictCache != nil {
		verdictCache.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("signal council stopped")
}
