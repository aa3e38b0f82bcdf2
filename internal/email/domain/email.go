package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a JSON-encoded string slice column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// Email is the local mirror of one remote message. RemoteID is unique per
// account and immutable once assigned; DeletedAt non-nil means the email is
// trashed but retained until purge.
type Email struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	AccountID      string     `json:"account_id" gorm:"index;uniqueIndex:idx_account_remote;not null"`
	RemoteID       string     `json:"remote_id" gorm:"uniqueIndex:idx_account_remote;not null"`
	ThreadID       string     `json:"thread_id,omitempty" gorm:"index"`
	Subject        string     `json:"subject"`
	Sender         string     `json:"sender" gorm:"index"`
	SenderName     string     `json:"sender_name,omitempty"`
	Recipients     StringList `json:"recipients" gorm:"type:text"`
	CC             StringList `json:"cc,omitempty" gorm:"type:text"`
	Body           string     `json:"body"`
	Snippet        string     `json:"snippet,omitempty"`
	Labels         StringList `json:"labels" gorm:"type:text"`
	IsRead         bool       `json:"is_read"`
	IsStarred      bool       `json:"is_starred"`
	HasAttachments bool       `json:"has_attachments"`
	ReceivedAt     time.Time  `json:"received_at" gorm:"index"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" gorm:"index"`

	// SyncVersion is a local monotonic revision bumped on every committed
	// write; used for optimistic conflict detection on concurrent mutations.
	SyncVersion int64 `json:"sync_version" gorm:"default:0"`

	// RemoteTrashPending marks emails trashed locally whose remote trash
	// call has not succeeded yet. Local DeletedAt is authoritative until
	// this is cleared by the scheduler.
	RemoteTrashPending bool `json:"-" gorm:"default:false"`

	// RemoteUntrashPending marks emails restored locally whose remote
	// untrash call has not succeeded yet. The local restore is
	// authoritative until this is cleared by the scheduler.
	RemoteUntrashPending bool `json:"-" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTrashed reports whether the email is in the Trashed state.
func (e *Email) IsTrashed() bool {
	return e.DeletedAt != nil
}
