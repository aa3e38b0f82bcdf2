package delivery

import (
	"errors"
	"net/http"
	"strconv"

	accountdomain "saigbox-backend/internal/account/domain"
	emaildomain "saigbox-backend/internal/email/domain"
	huddledomain "saigbox-backend/internal/huddle/domain"
	"saigbox-backend/internal/huddle/usecase"

	"github.com/gin-gonic/gin"
)

// HuddleHandler serves the shared workspace endpoints.
type HuddleHandler struct {
	huddleUsecase *usecase.HuddleUsecase
}

func NewHuddleHandler(huddleUsecase *usecase.HuddleUsecase) *HuddleHandler {
	return &HuddleHandler{huddleUsecase: huddleUsecase}
}

func currentAccount(c *gin.Context) *accountdomain.Account {
	if v, ok := c.Get("account"); ok {
		if account, ok := v.(*accountdomain.Account); ok {
			return account
		}
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, emaildomain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, emaildomain.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type createHuddleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}

func (h *HuddleHandler) CreateHuddle(c *gin.Context) {
	account := currentAccount(c)

	var req createHuddleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	huddle, err := h.huddleUsecase.Create(account.Email, req.Name, req.Description, req.Members)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, huddle)
}

func (h *HuddleHandler) ListHuddles(c *gin.Context) {
	account := currentAccount(c)

	var status *huddledomain.HuddleStatus
	if s := c.Query("status"); s != "" {
		parsed := huddledomain.HuddleStatus(s)
		status = &parsed
	}

	huddles, err := h.huddleUsecase.List(account.Email, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"huddles": huddles})
}

func (h *HuddleHandler) GetHuddle(c *gin.Context) {
	account := currentAccount(c)
	huddle, err := h.huddleUsecase.Get(account.Email, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, huddle)
}

func (h *HuddleHandler) ArchiveHuddle(c *gin.Context) {
	account := currentAccount(c)
	huddle, err := h.huddleUsecase.Archive(account.Email, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, huddle)
}

type addMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *HuddleHandler) AddMember(c *gin.Context) {
	account := currentAccount(c)

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.huddleUsecase.AddMember(account.Email, c.Param("id"), req.Email); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "member added"})
}

type postMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *HuddleHandler) PostMessage(c *gin.Context) {
	account := currentAccount(c)

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.huddleUsecase.PostMessage(account.Email, c.Param("id"), req.Text)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *HuddleHandler) ListMessages(c *gin.Context) {
	account := currentAccount(c)

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.huddleUsecase.Messages(account.Email, c.Param("id"), limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type shareEmailRequest struct {
	EmailID string `json:"email_id" binding:"required"`
}

func (h *HuddleHandler) ShareEmail(c *gin.Context) {
	account := currentAccount(c)

	var req shareEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.huddleUsecase.ShareEmail(account.Email, c.Param("id"), req.EmailID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email shared"})
}
