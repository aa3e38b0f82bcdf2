package usecase

import (
	"errors"
	"fmt"
	"testing"

	emaildomain "saigbox-backend/internal/email/domain"
	"saigbox-backend/internal/huddle/domain"
)

// fakeHuddleRepo keeps huddles in memory.
type fakeHuddleRepo struct {
	huddles  map[string]*domain.Huddle
	messages map[string][]*domain.HuddleMessage
	shares   []*domain.HuddleEmail
	nextID   int
}

func newFakeHuddleRepo() *fakeHuddleRepo {
	return &fakeHuddleRepo{
		huddles:  make(map[string]*domain.Huddle),
		messages: make(map[string][]*domain.HuddleMessage),
	}
}

func (f *fakeHuddleRepo) Create(huddle *domain.Huddle) error {
	f.nextID++
	huddle.ID = fmt.Sprintf("huddle-%d", f.nextID)
	for i := range huddle.Members {
		huddle.Members[i].HuddleID = huddle.ID
	}
	f.huddles[huddle.ID] = huddle
	return nil
}

func (f *fakeHuddleRepo) FindByID(id string) (*domain.Huddle, error) {
	return f.huddles[id], nil
}

func (f *fakeHuddleRepo) FindByMemberEmail(email string, status *domain.HuddleStatus) ([]*domain.Huddle, error) {
	var out []*domain.Huddle
	for _, h := range f.huddles {
		if status != nil && h.Status != *status {
			continue
		}
		for _, m := range h.Members {
			if m.UserEmail == email {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeHuddleRepo) Update(huddle *domain.Huddle) error {
	f.huddles[huddle.ID] = huddle
	return nil
}

func (f *fakeHuddleRepo) AddMember(member *domain.HuddleMember) error {
	h, ok := f.huddles[member.HuddleID]
	if !ok {
		return fmt.Errorf("huddle %s missing", member.HuddleID)
	}
	h.Members = append(h.Members, *member)
	return nil
}

func (f *fakeHuddleRepo) AddMessage(message *domain.HuddleMessage) error {
	f.messages[message.HuddleID] = append(f.messages[message.HuddleID], message)
	return nil
}

func (f *fakeHuddleRepo) ListMessages(huddleID string, limit int) ([]*domain.HuddleMessage, error) {
	return f.messages[huddleID], nil
}

func (f *fakeHuddleRepo) ShareEmail(share *domain.HuddleEmail) error {
	f.shares = append(f.shares, share)
	return nil
}

func TestCreateDropsDuplicateMembers(t *testing.T) {
	u := NewHuddleUsecase(newFakeHuddleRepo())

	huddle, err := u.Create("owner@example.com", "Planning", "",
		[]string{"bob@example.com", "Owner@Example.com", "bob@example.com", ""})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(huddle.Members) != 2 {
		t.Fatalf("members = %d, want owner plus bob", len(huddle.Members))
	}
	if huddle.Members[0].UserEmail != "owner@example.com" || huddle.Members[0].Role != domain.RoleOwner {
		t.Errorf("first member = %+v, want the owner", huddle.Members[0])
	}
}

func TestCreateRequiresName(t *testing.T) {
	u := NewHuddleUsecase(newFakeHuddleRepo())
	if _, err := u.Create("owner@example.com", "", "", nil); err == nil {
		t.Error("empty name accepted")
	}
}

func TestGetScopesToMembership(t *testing.T) {
	u := NewHuddleUsecase(newFakeHuddleRepo())
	huddle, _ := u.Create("owner@example.com", "Planning", "", []string{"bob@example.com"})

	if _, err := u.Get("bob@example.com", huddle.ID); err != nil {
		t.Errorf("member Get: %v", err)
	}
	if _, err := u.Get("stranger@example.com", huddle.ID); !errors.Is(err, emaildomain.ErrNotFound) {
		t.Errorf("non-member Get err = %v, want ErrNotFound", err)
	}
}

func TestArchiveIsOwnerOnlyAndFinalForWrites(t *testing.T) {
	u := NewHuddleUsecase(newFakeHuddleRepo())
	huddle, _ := u.Create("owner@example.com", "Planning", "", []string{"bob@example.com"})

	if _, err := u.Archive("bob@example.com", huddle.ID); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("member archive err = %v, want ErrInvalidState", err)
	}

	archived, err := u.Archive("owner@example.com", huddle.ID)
	if err != nil {
		t.Fatalf("owner archive: %v", err)
	}
	if archived.Status != domain.HuddleArchived {
		t.Fatalf("status = %q, want archived", archived.Status)
	}

	// Archived huddles reject new messages, members and shares.
	if _, err := u.PostMessage("owner@example.com", huddle.ID, "hello"); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("post into archived huddle err = %v, want ErrInvalidState", err)
	}
	if err := u.AddMember("owner@example.com", huddle.ID, "carol@example.com"); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("add member to archived huddle err = %v, want ErrInvalidState", err)
	}
	if err := u.ShareEmail("owner@example.com", huddle.ID, "email-1"); !errors.Is(err, emaildomain.ErrInvalidState) {
		t.Errorf("share into archived huddle err = %v, want ErrInvalidState", err)
	}

	// Archiving again is a no-op.
	if _, err := u.Archive("owner@example.com", huddle.ID); err != nil {
		t.Errorf("repeat archive: %v", err)
	}
}

func TestPostAndListMessages(t *testing.T) {
	u := NewHuddleUsecase(newFakeHuddleRepo())
	huddle, _ := u.Create("owner@example.com", "Planning", "", []string{"bob@example.com"})

	if _, err := u.PostMessage("bob@example.com", huddle.ID, "first"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if _, err := u.PostMessage("owner@example.com", huddle.ID, "second"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if _, err := u.PostMessage("owner@example.com", huddle.ID, "  "); err == nil {
		t.Error("blank message accepted")
	}

	messages, err := u.Messages("bob@example.com", huddle.ID, 10)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("messages = %d, want 2", len(messages))
	}
}
