package domain

import "time"

// SyncCursor is the per-account reconciliation position. Position is opaque
// to everything but the provider that issued it. It is advanced only after a
// fully committed page and never reset automatically.
type SyncCursor struct {
	AccountID     string     `json:"account_id" gorm:"primaryKey"`
	Position      string     `json:"position"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	FailureCount  int        `json:"failure_count" gorm:"default:0"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
