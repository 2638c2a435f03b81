package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
	"github.com/markjakearzadon/payentry-bot/internal/config"
	"github.com/markjakearzadon/payentry-bot/internal/db"
	"github.com/markjakearzadon/payentry-bot/internal/dialog"
	"github.com/markjakearzadon/payentry-bot/internal/handlers"
	"github.com/markjakearzadon/payentry-bot/internal/pricing"
	"github.com/markjakearzadon/payentry-bot/internal/services"
)

// stores holds the operator directory and payment records of the selected
// backend.
type stores struct {
	directory dialog.Directory
	records   dialog.RecordStore
	migrate   func(ctx context.Context) error
	mongoDB   *mongo.Database
	close     func()
}

func openStores(ctx context.Context, sc config.StoreConfig, needMongo bool) (*stores, error) {
	s := &stores{close: func() {}}
	var closers []func()
	s.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if sc.Backend == config.BackendMongo || needMongo {
		client, err := db.ConnectMongo(ctx, sc.MongoURI, logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { db.DisconnectMongo(client, logger) })
		s.mongoDB = client.Database(sc.MongoDB)
	}

	switch sc.Backend {
	case config.BackendMongo:
		payments := services.NewMongoPaymentService(s.mongoDB, logger)
		s.directory = services.NewMongoOperatorService(s.mongoDB, logger)
		s.records = payments
		s.migrate = payments.EnsureIndexes
	default:
		pg, err := db.ConnectPostgres(ctx, sc.DatabaseURL, sc.MaxConns, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		closers = append(closers, func() { db.ClosePostgres(pg, logger) })
		payments := services.NewPaymentService(pg, logger)
		s.directory = services.NewOperatorService(pg, logger)
		s.records = payments
		s.migrate = payments.Migrate
	}
	return s, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	sc, err := config.LoadStore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	st, err := openStores(ctx, sc, false)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.migrate(ctx); err != nil {
		return err
	}
	logger.Info("migration complete", zap.String("backend", sc.Backend))
	return nil
}

func newRateCache(ctx context.Context, cfg config.RatesConfig) (services.RateCache, func(), error) {
	if cfg.RedisURL == "" {
		return services.NewMemoryRateCache(), func() {}, nil
	}
	client, err := services.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return services.NewRedisRateCache(client, "", cfg.TTL), func() { _ = client.Close() }, nil
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Bot.Mode = mode
	}
	if cfg.Bot.Mode != config.ModePoll && cfg.Bot.Mode != config.ModeWebhook {
		return fmt.Errorf("invalid --mode %q: must be %s or %s", cfg.Bot.Mode, config.ModePoll, config.ModeWebhook)
	}
	if cfg.Bot.Mode == config.ModeWebhook && (cfg.Bot.WebhookURL == "" || cfg.Bot.WebhookSecret == "") {
		return fmt.Errorf("webhook mode needs WEBHOOK_URL and WEBHOOK_SECRET")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Store, cfg.Proofs.Backend == config.ProofsGridFS)
	if err != nil {
		return err
	}
	defer st.close()

	cache, closeCache, err := newRateCache(ctx, cfg.Rates)
	if err != nil {
		return err
	}
	defer closeCache()

	rates := services.NewRateService(services.RateServiceConfig{
		BaseURL:  cfg.Rates.URL,
		TTL:      cfg.Rates.TTL,
		Cache:    cache,
		Fallback: cat.FallbackRates,
		Symbols:  cat.Currencies(),
		Logger:   logger.Named("rates"),
	})

	sheet, err := services.NewSheetService(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.Range, cfg.Sheets.CredentialsJSON, logger.Named("sheets"))
	if err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	logger.Info("authorized on Telegram", zap.String("bot", bot.Self.UserName))

	var proofs dialog.BlobStore = services.TelegramProofService{}
	var proofHandler *handlers.ProofHandler
	if cfg.Proofs.Backend == config.ProofsGridFS {
		gridfs, err := services.NewProofService(st.mongoDB, handlers.NewTelegramFiles(bot, nil), cfg.Proofs.PublicBaseURL, logger.Named("proofs"))
		if err != nil {
			return err
		}
		proofs = gridfs
		proofHandler = handlers.NewProofHandler(gridfs, logger)
	}

	machine := dialog.NewMachine(dialog.Config{
		Catalog:   cat,
		Pricing:   pricing.NewReconciler(cat, rates),
		Directory: st.directory,
		Proofs:    proofs,
		Sheet:     sheet,
		Records:   st.records,
		Location:  cfg.Location,
		Logger:    logger.Named("dialog"),
	})
	tg := handlers.NewTelegramHandler(bot, machine, cfg.Bot.WebhookSecret, logger.Named("telegram"))

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Bot.Port,
		Handler:      handlers.NewRouter(tg, proofHandler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server running", zap.String("port", cfg.Bot.Port), zap.String("mode", cfg.Bot.Mode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if cfg.Bot.Mode == config.ModeWebhook {
		wh, err := tgbotapi.NewWebhook(cfg.Bot.WebhookURL + "/telegram/" + cfg.Bot.WebhookSecret)
		if err != nil {
			return fmt.Errorf("invalid WEBHOOK_URL: %w", err)
		}
		if _, err := bot.Request(wh); err != nil {
			return fmt.Errorf("failed to set webhook: %w", err)
		}
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil {
				return err
			}
		}
	} else {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("failed to delete webhook", zap.Error(err))
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := bot.GetUpdatesChan(u)
		go func() {
			<-ctx.Done()
			bot.StopReceivingUpdates()
		}()
		tg.Poll(ctx, updates)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
