package usecase

import (
	"fmt"
	"strings"

	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/huddle/domain"
	"saigbox-backend/internal/huddle/repository"
)

// HuddleUsecase manages huddle creation, membership and messages. The
// creator's email address is always the owner member.
type HuddleUsecase struct {
	huddleRepo repository.HuddleRepository
}

// NewHuddleUsecase creates a HuddleUsecase.
func NewHuddleUsecase(huddleRepo repository.HuddleRepository) *HuddleUsecase {
	return &HuddleUsecase{huddleRepo: huddleRepo}
}

// Create builds a huddle with the creator as owner plus the given member
// addresses. Duplicate and empty addresses are dropped.
func (u *HuddleUsecase) Create(creatorEmail, name, description string, memberEmails []string) (*domain.Huddle, error) {
	if name == "" {
		return nil, fmt.Errorf("huddle name is required")
	}

	huddle := &domain.Huddle{
		Name:        name,
		Description: description,
		CreatedBy:   creatorEmail,
		Status:      domain.HuddleActive,
		Members: []domain.HuddleMember{
			{UserEmail: creatorEmail, Role: domain.RoleOwner},
		},
	}

	seen := map[string]bool{strings.ToLower(creatorEmail): true}
	for _, email := range memberEmails {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			continue
		}
		seen[key] = true
		huddle.Members = append(huddle.Members, domain.HuddleMember{
			UserEmail: email,
			Role:      domain.RoleMember,
		})
	}

	if err := u.huddleRepo.Create(huddle); err != nil {
		return nil, err
	}
	return huddle, nil
}

// List returns the huddles the address belongs to.
func (u *HuddleUsecase) List(memberEmail string, status *domain.HuddleStatus) ([]*domain.Huddle, error) {
	return u.huddleRepo.FindByMemberEmail(memberEmail, status)
}

// Get returns a huddle the address belongs to, or ErrNotFound.
func (u *HuddleUsecase) Get(memberEmail, huddleID string) (*domain.Huddle, error) {
	huddle, err := u.huddleRepo.FindByID(huddleID)
	if err != nil {
		return nil, err
	}
	if huddle == nil || !isMember(huddle, memberEmail) {
		return nil, emaildomain.ErrNotFound
	}
	return huddle, nil
}

// Archive moves an active huddle to archived. Only the owner may archive.
func (u *HuddleUsecase) Archive(memberEmail, huddleID string) (*domain.Huddle, error) {
	huddle, err := u.Get(memberEmail, huddleID)
	if err != nil {
		return nil, err
	}
	if huddle.CreatedBy != memberEmail {
		return nil, fmt.Errorf("only the huddle owner may archive: %w", emaildomain.ErrInvalidState)
	}
	if huddle.Status == domain.HuddleArchived {
		return huddle, nil
	}
	huddle.Status = domain.HuddleArchived
	if err := u.huddleRepo.Update(huddle); err != nil {
		return nil, err
	}
	return huddle, nil
}

// AddMember adds an address to an active huddle. Adding an existing member
// is an error surfaced by the unique index.
func (u *HuddleUsecase) AddMember(memberEmail, huddleID, newMemberEmail string) error {
	huddle, err := u.Get(memberEmail, huddleID)
	if err != nil {
		return err
	}
	if huddle.Status != domain.HuddleActive {
		return fmt.Errorf("huddle %s is archived: %w", huddleID, emaildomain.ErrInvalidState)
	}
	return u.huddleRepo.AddMember(&domain.HuddleMember{
		HuddleID:  huddle.ID,
		UserEmail: strings.TrimSpace(newMemberEmail),
		Role:      domain.RoleMember,
	})
}

// PostMessage appends a chat message to an active huddle.
func (u *HuddleUsecase) PostMessage(memberEmail, huddleID, text string) (*domain.HuddleMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message text is required")
	}
	huddle, err := u.Get(memberEmail, huddleID)
	if err != nil {
		return nil, err
	}
	if huddle.Status != domain.HuddleActive {
		return nil, fmt.Errorf("huddle %s is archived: %w", huddleID, emaildomain.ErrInvalidState)
	}
	message := &domain.HuddleMessage{
		HuddleID:    huddle.ID,
		SenderEmail: memberEmail,
		Message:     text,
	}
	if err := u.huddleRepo.AddMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

// Messages returns the huddle's chat history in send order.
func (u *HuddleUsecase) Messages(memberEmail, huddleID string, limit int) ([]*domain.HuddleMessage, error) {
	if _, err := u.Get(memberEmail, huddleID); err != nil {
		return nil, err
	}
	return u.huddleRepo.ListMessages(huddleID, limit)
}

// ShareEmail records an email shared into an active huddle.
func (u *HuddleUsecase) ShareEmail(memberEmail, huddleID, emailID string) error {
	huddle, err := u.Get(memberEmail, huddleID)
	if err != nil {
		return err
	}
	if huddle.Status != domain.HuddleActive {
		return fmt.Errorf("huddle %s is archived: %w", huddleID, emaildomain.ErrInvalidState)
	}
	return u.huddleRepo.ShareEmail(&domain.HuddleEmail{
		HuddleID: huddle.ID,
		EmailID:  emailID,
		SharedBy: memberEmail,
	})
}

func isMember(huddle *domain.Huddle, email string) bool {
	for _, m := range huddle.Members {
		if strings.EqualFold(m.UserEmail, email) {
			return true
		}
	}
	return false
}
