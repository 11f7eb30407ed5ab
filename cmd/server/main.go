package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/api"
	"github.com/dreampot/paycore/internal/cache"
	"github.com/dreampot/paycore/internal/cardclient"
	"github.com/dreampot/paycore/internal/config"
	"github.com/dreampot/paycore/internal/crypto"
	"github.com/dreampot/paycore/internal/dispatch"
	"github.com/dreampot/paycore/internal/domain"
	"github.com/dreampot/paycore/internal/events"
	"github.com/dreampot/paycore/internal/ledger"
	"github.com/dreampot/paycore/internal/notify"
	"github.com/dreampot/paycore/internal/provider"
	"github.com/dreampot/paycore/internal/ratelimit"
	"github.com/dreampot/paycore/internal/reconciliation"
	"github.com/dreampot/paycore/internal/repository"
	"github.com/dreampot/paycore/internal/webhook"
)

func main() {
	// Missing .env is fine; containers inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("initializing database", zap.String("path", cfg.DBPath))
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		logger.Fatal("init db", zap.Error(err))
	}
	defer db.Close()

	// Repositories.
	contributionRepo := repository.NewContributionRepo(db)
	payoutRepo := repository.NewPayoutRepo(db)
	queueRepo := repository.NewCreditQueueRepo(db)
	boardRepo := repository.NewBoardRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	// Redis-backed pieces degrade to local fallbacks when no address is
	// configured (development).
	var boardCache cache.BoardCache = cache.NoopBoardCache{}
	var limiter ratelimit.Limiter = ratelimit.AllowAll{}
	if cfg.RedisAddr != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer redisClient.Close()
		boardCache = cache.NewRedisBoardCache(redisClient, logger)
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.WebhookRateLimit, cfg.WebhookRateWindow)
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set: cache invalidation and rate limiting disabled")
	}

	var emitter events.Emitter = events.LogEmitter{Logger: logger}
	if cfg.PartnerEventURL != "" {
		emitter = events.NewHTTPEmitter(cfg.PartnerEventURL, cfg.PartnerEventSecret, logger)
	}

	notifier := notify.LogNotifier{Logger: logger}

	vaultKey := cfg.CardVaultKey
	if vaultKey == "" {
		if cfg.Production() {
			logger.Fatal("CARD_VAULT_KEY is required in production")
		}
		// Ephemeral key for development: queued card numbers will not
		// survive a restart.
		vaultKey = crypto.RandomKeyHex()
		logger.Warn("CARD_VAULT_KEY not set, using ephemeral key")
	}
	cipher, err := crypto.NewCardCipher(vaultKey)
	if err != nil {
		logger.Fatal("init card cipher", zap.Error(err))
	}

	// Provider adapters.
	adapters := []provider.Adapter{
		provider.NewPayGate(cfg.PayGate, logger),
		provider.NewSwiftEFT(cfg.SwiftEFT, logger),
		provider.NewScanPay(cfg.ScanPay, logger),
	}

	// Services.
	ledgerSvc := ledger.NewService(contributionRepo, boardRepo, boardCache, emitter, logger)
	webhookHandler := webhook.NewHandler(
		adapters, contributionRepo, ledgerSvc, limiter, cfg.Production(), logger)
	reconSvc := reconciliation.NewService(
		contributionRepo, ledgerSvc, adapters, notifier,
		cfg.Recon.AlertThreshold, cfg.Recon.PrimaryLookback, cfg.Recon.LongTailLookback,
		logger)
	cardAPI := cardclient.NewClient(cfg.Card, logger)
	dispatchSvc := dispatch.NewService(
		queueRepo, payoutRepo, auditRepo, cardAPI, cipher, notifier, logger)

	router := api.NewRouter(webhookHandler, reconSvc, dispatchSvc, cfg.JobToken, logger)

	logger.Info("dreampot payments core listening",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Strings("webhook_providers", []string{
			string(domain.ProviderPayGate),
			string(domain.ProviderScanPay),
		}))

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Production() || cfg.LogJSON {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
