package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/auth"
	"github.com/PaulBabatuyi/biodata-api/internal/config"
	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/db"
	"github.com/PaulBabatuyi/biodata-api/internal/health"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/payment"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogger(cfg.Log.Level, cfg.IsProduction())

	ctx := context.Background()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Database.URI, db.Options{
		Database:     cfg.Database.Name,
		Transactions: cfg.Database.Transactions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()
	log.Info().Str("database", cfg.Database.Name).Bool("transactions", cfg.Database.Transactions).Msg("database connection established")

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create indexes")
	}

	// Create stores
	counters := data.NewCountersStore(dbClient.Collection(db.Counters))
	usersStore := data.NewUsersStore(dbClient.Collection(db.Users))
	biodatasStore := data.NewBiodatasStore(dbClient.Collection(db.Biodatas), counters)
	storiesStore := data.NewStoriesStore(dbClient.Collection(db.SuccessStories), counters)
	contactsStore := data.NewContactsStore(dbClient.Collection(db.ContactRequests))
	premiumStore := data.NewPremiumRequestsStore(dbClient.Collection(db.PremiumRequests))

	if err := seedCounters(ctx, counters, biodatasStore, storiesStore); err != nil {
		log.Fatal().Err(err).Msg("failed to seed id counters")
	}

	// Initialize auth manager. JWT_KEYS enables rotation; otherwise the single
	// JWT_SECRET is used.
	var jwtMgr *auth.JWTManager
	if len(cfg.JWT.Keys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWT.Keys, cfg.JWT.ActiveKID, cfg.JWT.TTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)
	}

	// small burst to allow a couple of quick retries
	limiterStore := middleware.NewLimiterStore(cfg.Server.RateLimitRPM, 3, time.Minute)
	defer limiterStore.Stop()

	if cfg.Payment.SecretKey == "" {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; payment intents will fail")
	}

	srv := &Server{
		users:    usersStore,
		biodatas: biodatasStore,
		premium:  premiumStore,
		approver: data.NewPremiumApprover(dbClient, premiumStore, usersStore, biodatasStore),
		contacts: contactsStore,
		stories:  storiesStore,
		stats:    data.NewStatsReader(biodatasStore, storiesStore, contactsStore),
		payments: payment.NewStripeProvider(cfg.Payment.SecretKey, cfg.Payment.BaseURL),
		tokens:   jwtMgr,
		cookies:  auth.CookieIssuer{Production: cfg.IsProduction()},
		limiter:  limiterStore,
		currency: cfg.Payment.Currency,
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.routes(routerOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			TrustProxy:     cfg.Server.TrustProxy,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("environment", cfg.Server.Environment).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server exit")
		}
	}()

	// gRPC health probe on its own port
	var healthServer *health.Server
	if cfg.Health.Port > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.Port))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen for health probe")
		}
		healthServer = health.NewServer(dbClient, 10*time.Second)
		go func() {
			log.Info().Int("port", cfg.Health.Port).Msg("gRPC health server listening")
			if err := healthServer.Serve(lis); err != nil {
				log.Error().Err(err).Msg("gRPC health server exit")
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	if healthServer != nil {
		healthServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

// seedCounters raises the id sequences past ids already in use so data
// written before the counters existed cannot collide.
func seedCounters(ctx context.Context, counters *data.CountersStore, biodatas *data.BiodatasStore, stories *data.StoriesStore) error {
	maxBiodata, err := biodatas.MaxBiodataID(ctx)
	if err != nil {
		return err
	}
	if err := counters.Seed(ctx, data.SeqBiodata, maxBiodata); err != nil {
		return err
	}
	maxStory, err := stories.MaxStoryID(ctx)
	if err != nil {
		return err
	}
	return counters.Seed(ctx, data.SeqStory, maxStory)
}

// setupLogger configures the global zerolog logger. Development output is
// human readable; production writes JSON lines.
func setupLogger(level string, production bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !production {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
