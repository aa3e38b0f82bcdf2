package domain

import "time"

// Priority is the ordered action item priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Status is the current state of an action item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDismissed Status = "dismissed"
)

// ActionItem is a work item derived from an email or created explicitly.
// EmailID is a weak reference (plain id, no ownership): purging the email
// leaves the action item in place.
type ActionItem struct {
	ID        string `json:"id" gorm:"primaryKey"`
	AccountID string `json:"account_id" gorm:"index;not null"`
	EmailID   string `json:"email_id,omitempty" gorm:"index"`

	Title           string `json:"title" gorm:"not null"`
	NormalizedTitle string `json:"-" gorm:"index"`
	Description     string `json:"description,omitempty"`

	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority Priority   `json:"priority" gorm:"default:medium"`
	Status   Status     `json:"status" gorm:"default:pending"`

	// AutoCreated marks items produced by the extractor; SourceQuote keeps
	// the text that triggered them.
	AutoCreated bool   `json:"auto_created" gorm:"default:false"`
	SourceQuote string `json:"source_quote,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ParsePriority maps a free-form priority string onto the enum, defaulting
// to medium.
func ParsePriority(p string) Priority {
	switch Priority(p) {
	case PriorityLow, PriorityHigh, PriorityUrgent:
		return Priority(p)
	default:
		return PriorityMedium
	}
}
