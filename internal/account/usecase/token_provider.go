package usecase

import (
	"fmt"
	"time"

	accountdomain "saigbox-backend/internal/account/domain"
	"saigbox-backend/internal/account/repository"
	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/pkg/crypto"

	"golang.org/x/oauth2"
)

// TokenProvider builds provider credentials for an account. It is the
// engine-side face of the external token acquisition/refresh flow: it never
// runs an OAuth flow itself, it only hands out what is stored and persists
// refreshed tokens via the provider's refresh callback.
type TokenProvider interface {
	// Credentials returns valid provider credentials for the account, or
	// ErrUnauthenticated when no usable token/password is stored.
	Credentials(account *accountdomain.Account) (emaildomain.ProviderCredentials, error)
}

type tokenProvider struct {
	accountRepo   repository.AccountRepository
	encryptionKey string
}

// NewTokenProvider creates a TokenProvider over the account store.
func NewTokenProvider(accountRepo repository.AccountRepository, encryptionKey string) TokenProvider {
	return &tokenProvider{accountRepo: accountRepo, encryptionKey: encryptionKey}
}

func (p *tokenProvider) Credentials(account *accountdomain.Account) (emaildomain.ProviderCredentials, error) {
	switch account.Provider {
	case accountdomain.ProviderIMAP:
		if account.ImapPassword == "" {
			return emaildomain.ProviderCredentials{}, emaildomain.ErrUnauthenticated
		}
		password, err := crypto.Decrypt(account.ImapPassword, p.encryptionKey)
		if err != nil {
			return emaildomain.ProviderCredentials{}, fmt.Errorf("failed to decrypt imap password: %w", err)
		}
		return emaildomain.ProviderCredentials{
			Server:   account.ImapServer,
			Port:     account.ImapPort,
			Username: account.Email,
			Password: password,
		}, nil

	default:
		if account.AccessToken == "" && account.RefreshToken == "" {
			return emaildomain.ProviderCredentials{}, emaildomain.ErrUnauthenticated
		}
		refreshToken := ""
		if account.RefreshToken != "" {
			decrypted, err := crypto.Decrypt(account.RefreshToken, p.encryptionKey)
			if err != nil {
				return emaildomain.ProviderCredentials{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
			}
			refreshToken = decrypted
		}
		return emaildomain.ProviderCredentials{
			AccessToken:    account.AccessToken,
			RefreshToken:   refreshToken,
			OnTokenRefresh: p.makeTokenUpdateCallback(account.ID),
		}, nil
	}
}

// makeTokenUpdateCallback persists tokens refreshed by the provider's
// oauth2 token source.
func (p *tokenProvider) makeTokenUpdateCallback(accountID string) emaildomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		account, err := p.accountRepo.FindByID(accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return nil
		}

		account.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			encrypted, err := crypto.Encrypt(token.RefreshToken, p.encryptionKey)
			if err != nil {
				return err
			}
			account.RefreshToken = encrypted
		}
		account.TokenExpiry = token.Expiry
		account.Suspended = false
		account.UpdatedAt = time.Now()

		return p.accountRepo.Update(account)
	}
}
