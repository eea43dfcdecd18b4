package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "dmsync-backend/cmd/api"
	accountdomain "dmsync-backend/internal/account/domain"
	accountRepo "dmsync-backend/internal/account/repository"
	authUsecase "dmsync-backend/internal/auth/usecase"
	"dmsync-backend/internal/messaging/delivery"
	messagingdomain "dmsync-backend/internal/messaging/domain"
	messagingRepo "dmsync-backend/internal/messaging/repository"
	"dmsync-backend/internal/messaging/scheduler"
	messagingUsecase "dmsync-backend/internal/messaging/usecase"
	"dmsync-backend/internal/notification"
	"dmsync-backend/pkg/config"
	"dmsync-backend/pkg/database"
	"dmsync-backend/pkg/fcm"
	"dmsync-backend/pkg/graph"
	"dmsync-backend/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&accountdomain.AccountConnection{},
		&accountdomain.DeviceToken{},
		&messagingdomain.Conversation{},
		&messagingdomain.Message{},
		&messagingdomain.ParticipantIdentity{},
		&messagingdomain.SyncLease{},
		&messagingdomain.SyncRun{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize repositories (dependency injection)
	accountRepository := accountRepo.NewAccountRepository(db)
	deviceTokenRepo := accountRepo.NewDeviceTokenRepository(db)
	messageStore := messagingRepo.NewMessageStore(db)
	identityRepo := messagingRepo.NewIdentityRepository(db)
	syncRunRepo := messagingRepo.NewSyncRunRepository(db)
	locker := newSyncLocker(ctx, cfg, messagingRepo.NewLeaseRepository(db))

	provider := graph.NewClient(cfg.GraphBaseURL, cfg.GraphPlatform, cfg.GraphRatePerSecond)

	// Push notifications to devices are optional
	var notifier messagingUsecase.InboundNotifier
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize FCM client, device notifications disabled")
		} else {
			notifier = notification.NewPushNotifier(deviceTokenRepo, identityRepo, fcmClient)
		}
	}

	// Initialize use cases (dependency injection)
	resolver := messagingUsecase.NewResolver(provider, messageStore)
	engine := messagingUsecase.NewPersistenceEngine(messageStore)
	identityCache := messagingUsecase.NewIdentityCache(identityRepo, accountRepository, provider, cfg.IdentityWorkers)
	identityCache.Start()
	pushUsecase := messagingUsecase.NewPushUsecase(accountRepository, resolver, engine, identityCache, notifier)
	syncUsecase := messagingUsecase.NewSyncUsecase(accountRepository, provider, resolver, engine, identityCache, locker, syncRunRepo,
		messagingUsecase.SyncConfig{
			LeaseTTL:       cfg.SyncLeaseTTL,
			DetailWorkers:  cfg.SyncDetailWorkers,
			MaxRunDuration: cfg.SyncMaxRunDuration,
		})
	conversationUsecase := messagingUsecase.NewConversationUsecase(messageStore, identityRepo, engine)

	// Webhook deliveries go through Pub/Sub when a project is configured
	var publisher delivery.WebhookPublisher
	var notifService *notification.Service
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		notifService, err = notification.NewService(ctx, cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, pushUsecase)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize pubsub, webhooks are ingested inline")
		} else {
			publisher = notifService
			go notifService.Start(ctx)
		}
	} else {
		log.Info().Msg("GOOGLE_PROJECT_ID not configured, webhooks are ingested inline")
	}

	settings := scheduler.NewSettings(cfg.IdentityBackfillSize)
	syncScheduler := scheduler.NewScheduler(accountRepository, syncUsecase, identityRepo, identityCache, settings, cfg.SyncInterval, cfg.BackfillInterval)
	syncScheduler.Start()

	var authUc authUsecase.AuthUsecase
	if cfg.APIJWTSecret != "" {
		authUc = authUsecase.NewAuthUsecase(cfg.APIJWTSecret)
	} else {
		log.Warn().Msg("API_JWT_SECRET not set, API is unauthenticated")
	}

	// Initialize HTTP handler
	handler := api.NewHandler(
		authUc,
		delivery.NewMessagingHandler(accountRepository, pushUsecase, syncUsecase, conversationUsecase, identityCache, deviceTokenRepo),
		delivery.NewWebhookHandler(pushUsecase, publisher, cfg.WebhookVerifyToken, cfg.WebhookAppSecret),
		settings,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	syncScheduler.Stop()
	identityCache.Stop()
	if notifService != nil {
		_ = notifService.Close()
	}
}

// newSyncLocker picks the lease backend. Redis falls back to postgres when unreachable.
func newSyncLocker(ctx context.Context, cfg *config.Config, fallback messagingRepo.SyncLocker) messagingRepo.SyncLocker {
	if cfg.SyncLockBackend != "redis" {
		return fallback
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using postgres sync leases")
		_ = client.Close()
		return fallback
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis sync leases")
	return messagingRepo.NewRedisLease(client)
}
