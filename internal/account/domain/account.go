package domain

import "time"

// Provider identifiers for the configured mailbox adapter.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Account is one connected mailbox. Tokens and IMAP passwords are stored
// encrypted; decryption happens only when building provider credentials.
type Account struct {
	ID       string `json:"id" gorm:"primaryKey"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Name     string `json:"name"`
	Provider string `json:"provider"` // "gmail" or "imap"

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"` // encrypted
	TokenExpiry  time.Time `json:"-"`

	ImapServer   string `json:"-"`
	ImapPort     int    `json:"-"`
	ImapPassword string `json:"-"` // encrypted

	// Suspended is set when the provider rejects the account's credentials.
	// The external token-refresh flow clears it by storing fresh tokens.
	Suspended bool `json:"suspended"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
