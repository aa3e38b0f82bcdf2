package main

import (
	"context"
	"log"
	"strings"
	"time"

	api "saigbox-backend/cmd/api"
	accountdelivery "saigbox-backend/internal/account/delivery"
	accountdomain "saigbox-backend/internal/account/domain"
	accountrepo "saigbox-backend/internal/account/repository"
	accountusecase "saigbox-backend/internal/account/usecase"
	actiondelivery "saigbox-backend/internal/action/delivery"
	actiondomain "saigbox-backend/internal/action/domain"
	actionrepo "saigbox-backend/internal/action/repository"
	actionusecase "saigbox-backend/internal/action/usecase"
	assistantdelivery "saigbox-backend/internal/assistant/delivery"
	assistantusecase "saigbox-backend/internal/assistant/usecase"
	emaildelivery "saigbox-backend/internal/email/delivery"
	emaildomain "saigbox-backend/internal/email/domain"
	emailrepo "saigbox-backend/internal/email/repository"
	emailusecase "saigbox-backend/internal/email/usecase"
	huddledelivery "saigbox-backend/internal/huddle/delivery"
	huddledomain "saigbox-backend/internal/huddle/domain"
	huddlerepo "saigbox-backend/internal/huddle/repository"
	huddleusecase "saigbox-backend/internal/huddle/usecase"
	"saigbox-backend/internal/notification"
	"saigbox-backend/pkg/ai"
	"saigbox-backend/pkg/config"
	"saigbox-backend/pkg/database"
	"saigbox-backend/pkg/fcm"
	"saigbox-backend/pkg/gmail"
	"saigbox-backend/pkg/imap"
	"saigbox-backend/pkg/keylock"
	"saigbox-backend/pkg/sse"
)

func main() {
	cfg := config.Load()

	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.DeviceToken{},
		&emaildomain.Email{},
		&emaildomain.SyncCursor{},
		&actiondomain.ActionItem{},
		&huddledomain.Huddle{},
		&huddledomain.HuddleMember{},
		&huddledomain.HuddleMessage{},
		&huddledomain.HuddleEmail{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Repositories
	accountRepository := accountrepo.NewAccountRepository(db)
	deviceTokenRepository := accountrepo.NewDeviceTokenRepository(db)
	emailRepository := emailrepo.NewEmailRepository(db)
	cursorRepository := emailrepo.NewSyncCursorRepository(db)
	actionRepository := actionrepo.NewActionItemRepository(db)
	huddleRepository := huddlerepo.NewHuddleRepository(db)

	// Providers
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)
	providers := map[string]emaildomain.MailProvider{
		accountdomain.ProviderGmail: gmailService,
		accountdomain.ProviderIMAP:  imap.NewService(),
	}
	tokenProvider := accountusecase.NewTokenProvider(accountRepository, cfg.EncryptionKey)

	rowLocks := keylock.New()
	sseManager := sse.NewManager()

	// FCM is optional; SSE delivery works without it.
	var fcmClient *fcm.Client
	if cfg.FirebaseCredFile != "" {
		fcmClient, err = fcm.NewClient(cfg.FirebaseCredFile)
		if err != nil {
			log.Printf("[Main] FCM disabled: %v", err)
			fcmClient = nil
		}
	}

	publisher := notification.NewFanout(sseManager, fcmClient, deviceTokenRepository, emailRepository, actionRepository)

	// Usecases
	extractor := actionusecase.NewExtractor(actionRepository, publisher)
	actionUsecase := actionusecase.NewActionUsecase(actionRepository, publisher)
	huddleUsecase := huddleusecase.NewHuddleUsecase(huddleRepository)

	trashLifecycle := emailusecase.NewTrashLifecycle(db, emailRepository, publisher, rowLocks, cfg.TrashRetention)
	emailUsecase := emailusecase.NewEmailUsecase(emailRepository, providers, tokenProvider, rowLocks, publisher)

	scheduler := emailusecase.NewSyncScheduler(
		db,
		accountRepository,
		cursorRepository,
		providers,
		tokenProvider,
		extractor,
		publisher,
		rowLocks,
		emailusecase.SchedulerOptions{
			Interval: cfg.SyncInterval,
			PageSize: cfg.SyncPageSize,
		},
	)

	interpreter := assistantusecase.NewInterpreter(
		emailRepository,
		trashLifecycle,
		providers,
		tokenProvider,
		actionUsecase,
		huddleUsecase,
		rowLocks,
		publisher,
	)

	resolver := ai.NewIntentResolver(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})

	ctx := context.Background()

	// Background loops
	if err := scheduler.StartAll(ctx); err != nil {
		log.Printf("[Main] Failed to start sync loops: %v", err)
	}
	trashLifecycle.StartSweeper(ctx, time.Hour)

	// Gmail push notifications (optional, polling covers the gap)
	if cfg.GoogleProjectID != "" && cfg.PubSubTopic != "" {
		topicName := cfg.PubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		listener, err := notification.NewPubSubListener(
			cfg.GoogleProjectID, topicName, cfg.PubSubSubscription,
			accountRepository, scheduler, cfg.FirebaseCredFile,
		)
		if err != nil {
			log.Printf("[Main] Pub/Sub listener disabled: %v", err)
		} else {
			go listener.Start(ctx)
		}

		// Register Gmail push watches; accounts without valid tokens are
		// picked up by polling until they re-authenticate.
		go func() {
			accounts, err := accountRepository.FindAll()
			if err != nil {
				log.Printf("[Main] Could not list accounts for Gmail watch: %v", err)
				return
			}
			for _, account := range accounts {
				if account.Provider != accountdomain.ProviderGmail {
					continue
				}
				creds, err := tokenProvider.Credentials(account)
				if err != nil {
					continue
				}
				if err := gmailService.Watch(ctx, creds, cfg.PubSubTopic); err != nil {
					log.Printf("[Main] Gmail watch for %s failed: %v", account.Email, err)
				}
			}
		}()
	}

	// HTTP surface
	handler := api.NewHandler(
		cfg,
		accountRepository,
		scheduler,
		sseManager,
		accountdelivery.NewAccountHandler(deviceTokenRepository),
		emaildelivery.NewEmailHandler(emailUsecase, trashLifecycle),
		actiondelivery.NewActionHandler(actionUsecase),
		huddledelivery.NewHuddleHandler(huddleUsecase),
		assistantdelivery.NewAssistantHandler(resolver, interpreter),
	)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
