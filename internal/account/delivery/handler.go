package delivery

import (
	"net/http"

	accountdomain "saigbox-backend/internal/account/domain"
	"saigbox-backend/internal/account/repository"

	"github.com/gin-gonic/gin"
)

// AccountHandler serves the account info and push registration
// endpoints.
type AccountHandler struct {
	tokenRepo repository.DeviceTokenRepository
}

func NewAccountHandler(tokenRepo repository.DeviceTokenRepository) *AccountHandler {
	return &AccountHandler{tokenRepo: tokenRepo}
}

func currentAccount(c *gin.Context) *accountdomain.Account {
	if v, ok := c.Get("account"); ok {
		if account, ok := v.(*accountdomain.Account); ok {
			return account
		}
	}
	return nil
}

func (h *AccountHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentAccount(c))
}

type registerTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

func (h *AccountHandler) RegisterDeviceToken(c *gin.Context) {
	account := currentAccount(c)

	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tokenRepo.SaveToken(account.ID, req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device token registered"})
}

func (h *AccountHandler) UnregisterDeviceToken(c *gin.Context) {
	if err := h.tokenRepo.DeleteToken(c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device token removed"})
}
