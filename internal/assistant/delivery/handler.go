package delivery

import (
	"errors"
	"net/http"

	accountdomain "saigbox-backend/internal/account/domain"
	"saigbox-backend/internal/assistant/domain"
	"saigbox-backend/internal/assistant/usecase"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/pkg/ai"

	"github.com/gin-gonic/gin"
)

// AssistantHandler serves the natural language command endpoint.
type AssistantHandler struct {
	resolver    ai.IntentResolver
	interpreter *usecase.Interpreter
}

func NewAssistantHandler(resolver ai.IntentResolver, interpreter *usecase.Interpreter) *AssistantHandler {
	return &AssistantHandler{resolver: resolver, interpreter: interpreter}
}

func currentAccount(c *gin.Context) *accountdomain.Account {
	if v, ok := c.Get("account"); ok {
		if account, ok := v.(*accountdomain.Account); ok {
			return account
		}
	}
	return nil
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// HandleMessage resolves the user's message to an intent and executes
// it. Unsupported intents and missing parameters come back as 422 with a
// machine-readable reason, never as a partial execution.
func (h *AssistantHandler) HandleMessage(c *gin.Context) {
	account := currentAccount(c)

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent, err := h.resolver.ResolveIntent(c.Request.Context(), req.Message)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not interpret message"})
		return
	}

	result, err := h.interpreter.Execute(c.Request.Context(), account, intent)
	if err != nil {
		var incomplete *domain.IncompleteIntentError
		switch {
		case errors.As(err, &incomplete):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   incomplete.Error(),
				"intent":  incomplete.Intent,
				"missing": incomplete.Missing,
			})
		case errors.Is(err, domain.ErrUnsupportedIntent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, emaildomain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, emaildomain.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
