package domain

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenUpdateFunc is invoked when a provider refreshes its OAuth token so
// the caller can persist the new token.
type TokenUpdateFunc func(token *oauth2.Token) error

// ProviderCredentials carries whatever the configured provider needs to
// authenticate one call. OAuth fields are used by the Gmail provider, the
// server/username/password fields by the IMAP provider.
type ProviderCredentials struct {
	AccessToken    string
	RefreshToken   string
	OnTokenRefresh TokenUpdateFunc

	Server   string
	Port     int
	Username string
	Password string
}

// RemoteMessage is one message as reported by the remote provider.
type RemoteMessage struct {
	RemoteID       string
	ThreadID       string
	Subject        string
	Sender         string
	SenderName     string
	Recipients     StringList
	CC             StringList
	Body           string
	Snippet        string
	Labels         StringList
	IsRead         bool
	IsStarred      bool
	HasAttachments bool
	ReceivedAt     time.Time
	Trashed        bool
}

// FetchPage is one provider-defined page of changes.
type FetchPage struct {
	Messages   []RemoteMessage
	NextCursor string
	HasMore    bool
}

// Flags describes a flag/label mutation to apply remotely. Nil pointer
// fields are left untouched.
type Flags struct {
	Read         *bool
	Starred      *bool
	AddLabels    []string
	RemoveLabels []string
}

// OutgoingMessage is a message to send through the provider.
type OutgoingMessage struct {
	From      string
	FromName  string
	To        []string
	CC        []string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

// MailProvider is the remote mailbox adapter. Implementations must classify
// failures as transient or permanent via *ProviderError and report
// authentication failures as ErrUnauthenticated.
type MailProvider interface {
	// FetchSince returns the page of changes after cursor. An empty cursor
	// means "from the beginning".
	FetchSince(ctx context.Context, creds ProviderCredentials, cursor string, pageSize int) (*FetchPage, error)

	// ApplyFlags applies read/star/label changes to one remote message.
	ApplyFlags(ctx context.Context, creds ProviderCredentials, remoteID string, flags Flags) error

	// Trash moves a remote message to the provider's trash.
	Trash(ctx context.Context, creds ProviderCredentials, remoteID string) error

	// Untrash restores a remote message from the provider's trash.
	Untrash(ctx context.Context, creds ProviderCredentials, remoteID string) error

	// Send sends a message and returns its remote id.
	Send(ctx context.Context, creds ProviderCredentials, msg OutgoingMessage) (string, error)
}
