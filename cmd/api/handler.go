package api

import (
	accountdelivery "saigbox-backend/internal/account/delivery"
	accountrepo "saigbox-backend/internal/account/repository"
	actiondelivery "saigbox-backend/internal/action/delivery"
	assistantdelivery "saigbox-backend/internal/assistant/delivery"
	emaildelivery "saigbox-backend/internal/email/delivery"
	emailusecase "saigbox-backend/internal/email/usecase"
	huddledelivery "saigbox-backend/internal/huddle/delivery"
	"saigbox-backend/pkg/config"
	"saigbox-backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

// Handler bundles the HTTP surface. Wiring happens in main; Handler only
// maps routes onto the already-built usecases.
type Handler struct {
	config      *config.Config
	accountRepo accountrepo.AccountRepository
	scheduler   *emailusecase.SyncScheduler
	sseManager  *sse.Manager

	accountHandler   *accountdelivery.AccountHandler
	emailHandler     *emaildelivery.EmailHandler
	actionHandler    *actiondelivery.ActionHandler
	huddleHandler    *huddledelivery.HuddleHandler
	assistantHandler *assistantdelivery.AssistantHandler
}

func NewHandler(
	cfg *config.Config,
	accountRepo accountrepo.AccountRepository,
	scheduler *emailusecase.SyncScheduler,
	sseManager *sse.Manager,
	accountHandler *accountdelivery.AccountHandler,
	emailHandler *emaildelivery.EmailHandler,
	actionHandler *actiondelivery.ActionHandler,
	huddleHandler *huddledelivery.HuddleHandler,
	assistantHandler *assistantdelivery.AssistantHandler,
) *Handler {
	return &Handler{
		config:           cfg,
		accountRepo:      accountRepo,
		scheduler:        scheduler,
		sseManager:       sseManager,
		accountHandler:   accountHandler,
		emailHandler:     emailHandler,
		actionHandler:    actionHandler,
		huddleHandler:    huddleHandler,
		assistantHandler: assistantHandler,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)

	return r.Run(addr)
}
