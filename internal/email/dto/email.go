package dto

import (
	"time"

	emaildomain "saigbox-backend/internal/email/domain"
)

type EmailsResponse struct {
	Emails []*emaildomain.Email `json:"emails"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
	Total  int64                `json:"total"`
}

type SearchRequest struct {
	Sender  string     `json:"sender"`
	Unread  *bool      `json:"unread"`
	Starred *bool      `json:"starred"`
	Query   string     `json:"query"`
	Before  *time.Time `json:"before"`
	InTrash bool       `json:"in_trash"`
	Limit   int        `json:"limit"`
}

type SendEmailRequest struct {
	To      []string `json:"to" binding:"required"`
	CC      []string `json:"cc"`
	Subject string   `json:"subject" binding:"required"`
	Body    string   `json:"body" binding:"required"`
}
