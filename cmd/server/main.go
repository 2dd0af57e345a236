package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-vaults/internal/auth"
	"github.com/ksred/klear-vaults/internal/clock"
	"github.com/ksred/klear-vaults/internal/config"
	"github.com/ksred/klear-vaults/internal/database"
	"github.com/ksred/klear-vaults/internal/dca"
	"github.com/ksred/klear-vaults/internal/events"
	"github.com/ksred/klear-vaults/internal/exchange"
	"github.com/ksred/klear-vaults/internal/intent"
	"github.com/ksred/klear-vaults/internal/keeper"
	"github.com/ksred/klear-vaults/internal/ledger"
	"github.com/ksred/klear-vaults/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// handlers groups every route handler set the router needs
type handlers struct {
	auth     *auth.GinHandlers
	dca      *dca.GinHandlers
	intent   *intent.GinHandlers
	accounts *ledger.GinHandlers
	events   *events.GinHandlers
}

// main loads config, wires the vault services and the keeper, and serves the
// API until SIGINT or SIGTERM.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid config")
	}

	db, err := database.NewDatabase(cfg.Database.SQLitePath, os.Getenv("DEBUG") == "true")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	clk := clock.System{}
	led := ledger.New(db)
	journal := events.NewJournal(db)

	authService := auth.NewServiceFromConfig(cfg)
	dcaService := dca.NewService(db, led, journal, clk)
	intentService := intent.NewService(db, led, journal, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keeperDone := make(chan struct{})
	if cfg.Keeper.Enabled {
		exch := exchange.New(db, led, cfg.Keeper.Prices, exchange.WithSeed(cfg.Keeper.Seed))
		if err := exch.Fund(cfg.Keeper.Identity, cfg.Keeper.Inventory); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to fund keeper inventory")
		}

		processor := keeper.NewProcessor(keeper.Config{
			Identity:       cfg.Keeper.Identity,
			DcaSchedule:    cfg.Keeper.DcaCron,
			IntentSchedule: cfg.Keeper.IntentCron,
			PriceTTL:       cfg.Keeper.PriceTTL,
			Seed:           cfg.Keeper.Seed,
		}, dcaService, intentService, exch, exch, clk)

		go func() {
			defer close(keeperDone)
			if err := processor.Start(ctx); err != nil {
				zlog.Error().Err(err).Msg("Keeper stopped")
			}
		}()
	} else {
		close(keeperDone)
	}

	router.Use(middleware.RateLimit())

	setupRoutes(router, authService, handlers{
		auth:     auth.NewGinHandlers(authService),
		dca:      dca.NewGinHandlers(dcaService),
		intent:   intent.NewGinHandlers(intentService),
		accounts: ledger.NewGinHandlers(led),
		events:   events.NewGinHandlers(journal),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	cancel()
	<-keeperDone

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
//   - Auth routes: public token issue
//   - Vault routes: JWT, the caller is the vault owner
//   - Keeper routes: JWT carrying the keeper permission
func setupRoutes(router *gin.Engine, tokens middleware.TokenValidator, h handlers) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", h.auth.GenerateTokenHandler())
		}

		dcaGroup := v1.Group("/dca")
		dcaGroup.Use(middleware.JWTAuth(tokens))
		{
			dcaGroup.POST("", h.dca.CreateDcaHandler())
			dcaGroup.GET("", h.dca.ListDcaHandler())
			dcaGroup.GET("/:address", h.dca.GetDcaHandler())
			dcaGroup.POST("/:address/withdraw", h.dca.WithdrawDcaHandler())
			dcaGroup.DELETE("/:address", h.dca.CloseDcaHandler())
		}

		intents := v1.Group("/intents")
		intents.Use(middleware.JWTAuth(tokens))
		{
			intents.POST("", h.intent.CreateIntentHandler())
			intents.GET("", h.intent.ListIntentsHandler())
			intents.GET("/:address", h.intent.GetIntentHandler())
			intents.POST("/:address/withdraw", h.intent.WithdrawIntentHandler())
			intents.DELETE("/:address", h.intent.CloseIntentHandler())
		}

		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth(tokens))
		{
			accounts.GET("", h.accounts.ListAccountsHandler())
			accounts.GET("/:address", h.accounts.GetAccountHandler())
		}

		eventsGroup := v1.Group("/events")
		eventsGroup.Use(middleware.JWTAuth(tokens))
		{
			eventsGroup.GET("/:vault", h.events.ListEventsHandler())
		}

		keeperGroup := v1.Group("/keeper")
		keeperGroup.Use(middleware.KeeperAuth(tokens)...)
		{
			keeperGroup.GET("/dca/due", h.dca.ListDueHandler())
			keeperGroup.POST("/dca/:address/execute", h.dca.ExecuteDcaHandler())
			keeperGroup.GET("/intents/open", h.intent.ListOpenHandler())
			keeperGroup.POST("/intents/:address/execute", h.intent.ExecuteIntentHandler())
		}
	}
}
