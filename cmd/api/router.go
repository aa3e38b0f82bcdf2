package api

import (
	"errors"
	"net/http"

	accountdelivery "saigbox-backend/internal/account/delivery"
	accountdomain "saigbox-backend/internal/account/domain"
	emaildomain "saigbox-backend/internal/email/domain"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	authRequired := accountdelivery.AuthMiddleware(h.accountRepo, h.config.JWTSecret)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// SSE event stream
		api.GET("/events", authRequired, func(c *gin.Context) {
			account := c.MustGet("account").(*accountdomain.Account)
			h.sseManager.Stream(c.Writer, c.Request, account.ID)
		})

		// Manual sync trigger
		api.POST("/sync", authRequired, func(c *gin.Context) {
			account := c.MustGet("account").(*accountdomain.Account)
			if err := h.scheduler.TriggerSync(c.Request.Context(), account.ID); err != nil {
				if errors.Is(err, emaildomain.ErrSyncInProgress) {
					c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "sync completed"})
		})

		// Assistant command endpoint
		api.POST("/saig/message", authRequired, h.assistantHandler.HandleMessage)

		// Account routes (protected)
		account := api.Group("/account")
		account.Use(authRequired)
		{
			account.GET("/me", h.accountHandler.Me)
			account.POST("/devices", h.accountHandler.RegisterDeviceToken)
			account.DELETE("/devices/:token", h.accountHandler.UnregisterDeviceToken)
		}

		// Email routes (protected)
		emails := api.Group("/emails")
		emails.Use(authRequired)
		{
			emails.GET("", h.emailHandler.ListEmails)
			emails.POST("/search", h.emailHandler.SearchEmails)
			emails.POST("/send", h.emailHandler.SendEmail)
			emails.GET("/:id", h.emailHandler.GetEmail)
			emails.PATCH("/:id/read", h.emailHandler.MarkAsRead)
			emails.PATCH("/:id/unread", h.emailHandler.MarkAsUnread)
			emails.PATCH("/:id/star", h.emailHandler.ToggleStar)
			emails.POST("/:id/trash", h.emailHandler.TrashEmail)
		}

		// Trash routes (protected)
		trash := api.Group("/trash")
		trash.Use(authRequired)
		{
			trash.GET("", h.emailHandler.ListTrash)
			trash.POST("/:id/restore", h.emailHandler.RestoreEmail)
			trash.DELETE("/:id", h.emailHandler.PurgeEmail)
			trash.DELETE("", h.emailHandler.EmptyTrash)
		}

		// Action item routes (protected)
		actions := api.Group("/actions")
		actions.Use(authRequired)
		{
			actions.GET("", h.actionHandler.ListActions)
			actions.POST("", h.actionHandler.CreateAction)
			actions.GET("/:id", h.actionHandler.GetAction)
			actions.PUT("/:id", h.actionHandler.UpdateAction)
			actions.DELETE("/:id", h.actionHandler.DeleteAction)
			actions.PATCH("/:id/complete", h.actionHandler.CompleteAction)
			actions.PATCH("/:id/dismiss", h.actionHandler.DismissAction)
		}

		// Huddle routes (protected)
		huddles := api.Group("/huddles")
		huddles.Use(authRequired)
		{
			huddles.GET("", h.huddleHandler.ListHuddles)
			huddles.POST("", h.huddleHandler.CreateHuddle)
			huddles.GET("/:id", h.huddleHandler.GetHuddle)
			huddles.POST("/:id/archive", h.huddleHandler.ArchiveHuddle)
			huddles.POST("/:id/members", h.huddleHandler.AddMember)
			huddles.GET("/:id/messages", h.huddleHandler.ListMessages)
			huddles.POST("/:id/messages", h.huddleHandler.PostMessage)
			huddles.POST("/:id/emails", h.huddleHandler.ShareEmail)
		}
	}
}
