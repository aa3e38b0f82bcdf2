package domain

import "time"

// HuddleStatus is the lifecycle state of a huddle.
type HuddleStatus string

const (
	HuddleActive   HuddleStatus = "active"
	HuddleArchived HuddleStatus = "archived"
)

// Member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Huddle is a shared discussion space around emails.
type Huddle struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"not null"`
	Description string       `json:"description,omitempty"`
	CreatedBy   string       `json:"created_by" gorm:"index;not null"`
	Status      HuddleStatus `json:"status" gorm:"default:active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	Members  []HuddleMember  `json:"members,omitempty" gorm:"foreignKey:HuddleID;constraint:OnDelete:CASCADE"`
	Messages []HuddleMessage `json:"messages,omitempty" gorm:"foreignKey:HuddleID;constraint:OnDelete:CASCADE"`
}

// HuddleMember links an email address to a huddle. One row per address
// per huddle.
type HuddleMember struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	HuddleID  string    `json:"huddle_id" gorm:"uniqueIndex:idx_huddle_member;not null"`
	UserEmail string    `json:"user_email" gorm:"uniqueIndex:idx_huddle_member;not null"`
	Role      string    `json:"role" gorm:"default:member"`
	JoinedAt  time.Time `json:"joined_at"`
}

// HuddleMessage is one chat message inside a huddle.
type HuddleMessage struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	HuddleID    string    `json:"huddle_id" gorm:"index;not null"`
	SenderEmail string    `json:"sender_email" gorm:"not null"`
	Message     string    `json:"message" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// HuddleEmail records an email shared into a huddle. EmailID is a weak
// reference; purging the email leaves the share row.
type HuddleEmail struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	HuddleID string    `json:"huddle_id" gorm:"index;not null"`
	EmailID  string    `json:"email_id" gorm:"not null"`
	SharedBy string    `json:"shared_by" gorm:"not null"`
	SharedAt time.Time `json:"shared_at"`
}
