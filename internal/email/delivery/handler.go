package delivery

import (
	"errors"
	"net/http"
	"strconv"

	accountdomain "saigbox-backend/internal/account/domain"
	emaildomain "saigbox-backend/internal/email/domain"
	emaildto "saigbox-backend/internal/email/dto"
	"saigbox-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

// EmailHandler serves the mailbox and trash endpoints.
type EmailHandler struct {
	emailUsecase *usecase.EmailUsecase
	trash        *usecase.TrashLifecycle
}

func NewEmailHandler(emailUsecase *usecase.EmailUsecase, trash *usecase.TrashLifecycle) *EmailHandler {
	return &EmailHandler{
		emailUsecase: emailUsecase,
		trash:        trash,
	}
}

func currentAccount(c *gin.Context) *accountdomain.Account {
	if v, ok := c.Get("account"); ok {
		if account, ok := v.(*accountdomain.Account); ok {
			return account
		}
	}
	return nil
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, emaildomain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, emaildomain.ErrInvalidState), errors.Is(err, emaildomain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, emaildomain.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *EmailHandler) ListEmails(c *gin.Context) {
	account := currentAccount(c)

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

	emails, total, err := h.emailUsecase.ListInbox(account.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, emaildto.EmailsResponse{
		Emails: emails,
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

func (h *EmailHandler) GetEmail(c *gin.Context) {
	account := currentAccount(c)
	email, err := h.emailUsecase.Get(account.ID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, email)
}

func (h *EmailHandler) SearchEmails(c *gin.Context) {
	account := currentAccount(c)

	var req emaildto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	emails, err := h.emailUsecase.Search(account.ID, emaildomain.Filter{
		Sender:  req.Sender,
		Unread:  req.Unread,
		Starred: req.Starred,
		Query:   req.Query,
		Before:  req.Before,
		InTrash: req.InTrash,
		Limit:   req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails, "total": len(emails)})
}

func (h *EmailHandler) MarkAsRead(c *gin.Context) {
	h.setRead(c, true)
}

func (h *EmailHandler) MarkAsUnread(c *gin.Context) {
	h.setRead(c, false)
}

func (h *EmailHandler) setRead(c *gin.Context, read bool) {
	account := currentAccount(c)
	email, err := h.emailUsecase.SetRead(c.Request.Context(), account, c.Param("id"), read)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, email)
}

func (h *EmailHandler) ToggleStar(c *gin.Context) {
	account := currentAccount(c)
	id := c.Param("id")

	email, err := h.emailUsecase.Get(account.ID, id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	email, err = h.emailUsecase.SetStarred(c.Request.Context(), account, id, !email.IsStarred)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, email)
}

func (h *EmailHandler) SendEmail(c *gin.Context) {
	account := currentAccount(c)

	var req emaildto.SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	remoteID, err := h.emailUsecase.Send(c.Request.Context(), account, emaildomain.OutgoingMessage{
		To:      req.To,
		CC:      req.CC,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email sent", "remote_id": remoteID})
}

func (h *EmailHandler) TrashEmail(c *gin.Context) {
	account := currentAccount(c)
	id := c.Param("id")

	if _, err := h.emailUsecase.Get(account.ID, id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := h.trash.MoveToTrash(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email moved to trash"})
}

func (h *EmailHandler) ListTrash(c *gin.Context) {
	account := currentAccount(c)
	emails, err := h.emailUsecase.ListTrash(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails, "total": len(emails)})
}

func (h *EmailHandler) RestoreEmail(c *gin.Context) {
	account := currentAccount(c)
	id := c.Param("id")

	if _, err := h.emailUsecase.Get(account.ID, id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := h.trash.Restore(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email restored"})
}

func (h *EmailHandler) PurgeEmail(c *gin.Context) {
	account := currentAccount(c)
	id := c.Param("id")

	if _, err := h.emailUsecase.Get(account.ID, id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := h.trash.Purge(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email permanently deleted"})
}

// EmptyTrash purges every trashed email for the account.
func (h *EmailHandler) EmptyTrash(c *gin.Context) {
	account := currentAccount(c)

	emails, err := h.emailUsecase.ListTrash(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	purged := 0
	for _, email := range emails {
		if err := h.trash.Purge(email.ID); err == nil {
			purged++
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "trash emptied", "purged": purged})
}
