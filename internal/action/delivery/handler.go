package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	actiondomain "saigbox-backend/internal/action/domain"
	"saigbox-backend/internal/action/usecase"
	emaildomain "saigbox-backend/internal/email/domain"

	"github.com/gin-gonic/gin"
)

// ActionHandler serves the action item endpoints.
type ActionHandler struct {
	actionUsecase *usecase.ActionUsecase
}

func NewActionHandler(actionUsecase *usecase.ActionUsecase) *ActionHandler {
	return &ActionHandler{actionUsecase: actionUsecase}
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

type createActionRequest struct {
	EmailID     string     `json:"email_id"`
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    string     `json:"priority"`
}

func (h *ActionHandler) CreateAction(c *gin.Context) {
	account := currentAccount(c)

	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.actionUsecase.Create(usecase.CreateInput{
		AccountID:   account.ID,
		EmailID:     req.EmailID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *ActionHandler) ListActions(c *gin.Context) {
	account := currentAccount(c)

	var status *actiondomain.Status
	if s := c.Query("status"); s != "" {
		parsed := actiondomain.Status(s)
		status = &parsed
	}

	limit := 50
	offset := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.actionUsecase.List(account.ID, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action_items": items,
		"limit":        limit,
		"offset":       offset,
		"total":        total,
	})
}

func (h *ActionHandler) GetAction(c *gin.Context) {
	account := currentAccount(c)
	item, err := h.actionUsecase.Get(account.ID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateActionRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	ClearDue    bool       `json:"clear_due"`
	Priority    *string    `json:"priority"`
}

func (h *ActionHandler) UpdateAction(c *gin.Context) {
	account := currentAccount(c)

	var req updateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.actionUsecase.Update(account.ID, c.Param("id"), usecase.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		ClearDue:    req.ClearDue,
		Priority:    req.Priority,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ActionHandler) CompleteAction(c *gin.Context) {
	account := currentAccount(c)
	item, err := h.actionUsecase.Complete(account.ID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ActionHandler) DismissAction(c *gin.Context) {
	account := currentAccount(c)
	item, err := h.actionUsecase.Dismiss(account.ID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ActionHandler) DeleteAction(c *gin.Context) {
	account := currentAccount(c)
	if err := h.actionUsecase.Delete(account.ID, c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "action item deleted"})
}
