// Command autopost is the process entrypoint: it loads configuration,
// connects the database, wires every service package into an
// orchestrator.Pipeline, arms the daily scheduler, and serves the
// inbound HTTP surface, following the shape of the teacher's
// distribution_service/main.go (config -> db -> services -> server ->
// graceful shutdown).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tulparexpress/autopost-bot/internal/broadcast"
	"github.com/tulparexpress/autopost-bot/internal/cardcompositor"
	"github.com/tulparexpress/autopost-bot/internal/config"
	"github.com/tulparexpress/autopost-bot/internal/currency"
	"github.com/tulparexpress/autopost-bot/internal/database"
	"github.com/tulparexpress/autopost-bot/internal/httpapi"
	"github.com/tulparexpress/autopost-bot/internal/imagefetch"
	"github.com/tulparexpress/autopost-bot/internal/marketplace"
	"github.com/tulparexpress/autopost-bot/internal/marketplace/pinduoduo"
	"github.com/tulparexpress/autopost-bot/internal/marketplace/taobao"
	"github.com/tulparexpress/autopost-bot/internal/mirror"
	"github.com/tulparexpress/autopost-bot/internal/notify"
	"github.com/tulparexpress/autopost-bot/internal/orchestrator"
	"github.com/tulparexpress/autopost-bot/internal/payment"
	"github.com/tulparexpress/autopost-bot/internal/repository"
	"github.com/tulparexpress/autopost-bot/internal/scheduler"
	"github.com/tulparexpress/autopost-bot/internal/textgen"
)

const (
	connectTimeout   = 5 * time.Second
	broadcastTimeout = 5 * time.Second
	mirrorTimeout    = 30 * time.Second
	imageTimeout     = 15 * time.Second
	productsPerKey   = 20
	productRetention = 7 * 24 * time.Hour
)

var logger *zap.Logger

func initLogger() error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

func main() {
	if err := initLogger(); err != nil {
		log.Fatal("autopost: failed to initialize logger:", err)
	}
	defer logger.Sync()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal("autopost: failed to load configuration", zap.Error(err))
	}

	if err := database.Connect(cfg.Database.URL); err != nil {
		logger.Fatal("autopost: failed to connect to database", zap.Error(err))
	}
	if err := database.AutoMigrate(); err != nil {
		logger.Fatal("autopost: failed to run database migrations", zap.Error(err))
	}
	db := database.DB()

	currencyRepo := repository.NewCurrencyRepository(db)
	productRepo := repository.NewProductRepository(db)
	postRepo := repository.NewPostRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	_ = repository.NewSettingsRepository(db) // reserved for runtime-tunable overrides, see internal/repository

	primary := pinduoduo.New(cfg.Marketplaces.PrimaryBaseURL, cfg.Marketplaces.RapidAPIKey, cfg.Marketplaces.PrimaryDailyLimit, connectTimeout)

	var secondary marketplace.Client
	if cfg.Marketplaces.SecondaryEnabled {
		secondary = taobao.New(cfg.Marketplaces.SecondaryBaseURL, cfg.Marketplaces.RapidAPIKey, cfg.Marketplaces.SecondaryDailyLimit, connectTimeout)
	}

	currencyFeed := currency.New(currencyBaseURL(), connectTimeout, currencyRepo)

	textGen := textgen.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, contactUsername(), cfg.LLM.Timeout)

	images, err := imagefetch.New(imageTimeout)
	if err != nil {
		logger.Fatal("autopost: failed to initialize image downloader", zap.Error(err))
	}

	cards := cardcompositor.New(cfg.Card.DimensionPx)

	broadcaster := broadcast.New(cfg.Broadcast.BaseURL, cfg.Broadcast.BotToken, cfg.Broadcast.ChannelID, broadcastTimeout)

	var pipelineMirror orchestrator.MirrorPublisher
	if cfg.Mirror.Enabled {
		mirrorPublisher := mirror.New(cfg.Mirror.BaseURL, cfg.Mirror.AccessToken, mirrorTimeout)
		mirrorPublisher.SetAccountID(cfg.Mirror.AccountID)
		pipelineMirror = mirrorPublisher
		go checkMirrorToken(mirrorPublisher)
	}

	operatorNotifier := notify.New(broadcaster, cfg.Broadcast.AdminChatIDs)

	pipeline := orchestrator.New(orchestrator.Dependencies{
		Primary:      primary,
		Secondary:    secondary,
		Currency:     currencyFeed,
		CurrencyCode: "KGS",
		FilterCfg: orchestrator.FilterConfig{
			MinDiscount: cfg.Filtering.MinDiscount,
			MinRating:   cfg.Filtering.MinRating,
			TopLimit:    cfg.Filtering.TopLimit,
		},
		ProductsPerSource: productsPerKey,
		TextGen:           textGen,
		Images:            images,
		Cards:             cards,
		Broadcast:         broadcaster,
		Mirror:            pipelineMirror,
		Products:          productRepo,
		Posts:             postRepo,
		Notifier:          operatorNotifier,
	})

	sched, err := scheduler.New(cfg.Scheduler.PostingTime, cfg.Scheduler.Timezone,
		func(ctx context.Context, categoryHint string) error {
			result := pipeline.Run(ctx, categoryHint)
			if !result.Success {
				return fmt.Errorf("pipeline aborted at stage %q: %v", result.FailedStage, result.Stages[len(result.Stages)-1].Error)
			}
			return nil
		},
		func(err error) {
			logger.Error("autopost: scheduled pipeline run reported", zap.Error(err))
		},
	)
	if err != nil {
		logger.Fatal("autopost: failed to initialize scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		logger.Fatal("autopost: failed to start scheduler", zap.Error(err))
	}

	gateway := payment.NewGateway(cfg.Payment.APIURL, cfg.Payment.SID, cfg.Payment.Password, cfg.Payment.APIVersion, cfg.Payment.TestMode, connectTimeout)

	go runMaintenanceLoop(productRepo)

	engine := httpapi.New(
		gateway,
		invoiceRepo,
		broadcaster,
		cfg.Broadcast.AdminChatIDs,
		cfg.Payment.WebhookStrict,
		sched,
		database.HealthCheck,
		os.Getenv("ADMIN_API_TOKEN"),
		logger,
	)

	server := &http.Server{
		Addr:         ":" + port(),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("autopost: listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("autopost: server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("autopost: shutting down")

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("autopost: server forced to shutdown", zap.Error(err))
	}

	images.Purge()

	if err := database.Close(); err != nil {
		logger.Error("autopost: error closing database", zap.Error(err))
	}

	logger.Info("autopost: stopped")
}

func contactUsername() string {
	if v := os.Getenv("CONTACT_USERNAME"); v != "" {
		return v
	}
	return "tulparexpress_support"
}

func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}

func currencyBaseURL() string {
	if v := os.Getenv("CURRENCY_API_BASE_URL"); v != "" {
		return v
	}
	return "https://api.exchangerate-api.com"
}

// checkMirrorToken logs a warning at startup when the configured
// Instagram access token is within its expiry warning window (§4.9).
func checkMirrorToken(p *mirror.Publisher) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	info, err := p.TokenStatus(ctx)
	if err != nil {
		logger.Warn("autopost: could not check mirror token status", zap.Error(err))
		return
	}
	if !info.IsValid {
		logger.Warn("autopost: mirror access token reports invalid")
		return
	}
	if info.IsExpiringSoon() {
		logger.Warn("autopost: mirror access token expires soon", zap.Time("expires_at", info.ExpiresAt))
	}
}

// runMaintenanceLoop prunes products not refreshed within the
// retention window (§6 "periodic maintenance"), once a day.
func runMaintenanceLoop(products *repository.ProductRepository) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := products.PruneStale(productRetention)
		if err != nil {
			logger.Error("autopost: stale-product maintenance failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("autopost: pruned stale cached products", zap.Int64("count", n))
		}
	}
}
