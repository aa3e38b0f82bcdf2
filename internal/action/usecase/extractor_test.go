package usecase

import (
	"testing"
	"time"

	"saigbox-backend/internal/action/domain"
	emaildomain "saigbox-backend/internal/email/domain"
)

// fakeActionRepo is an in-memory ActionItemRepository recording creates.
type fakeActionRepo struct {
	items  []*domain.ActionItem
	nextID int
}

func (f *fakeActionRepo) Create(item *domain.ActionItem) error {
	f.nextID++
	item.ID = "item-" + string(rune('a'+f.nextID-1))
	f.items = append(f.items, item)
	return nil
}

func (f *fakeActionRepo) FindByID(id string) (*domain.ActionItem, error) {
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, nil
}

func (f *fakeActionRepo) FindByAccountID(accountID string, status *domain.Status, limit, offset int) ([]*domain.ActionItem, int64, error) {
	var out []*domain.ActionItem
	for _, item := range f.items {
		if item.AccountID != accountID {
			continue
		}
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, item)
	}
	return out, int64(len(out)), nil
}

func (f *fakeActionRepo) FindOpenByNormalizedTitle(emailID, normalizedTitle string) (*domain.ActionItem, error) {
	for _, item := range f.items {
		if item.EmailID == emailID && item.NormalizedTitle == normalizedTitle && item.Status != domain.StatusCompleted {
			return item, nil
		}
	}
	return nil, nil
}

func (f *fakeActionRepo) Update(item *domain.ActionItem) error { return nil }
func (f *fakeActionRepo) Delete(id string) error               { return nil }

func newTestExtractor(repo *fakeActionRepo, now time.Time) *Extractor {
	e := NewExtractor(repo, nil)
	e.now = func() time.Time { return now }
	return e
}

// Wednesday 2026-03-04 10:00 local.
var extractorNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)

func TestExtractFromEmailCreatesItems(t *testing.T) {
	repo := &fakeActionRepo{}
	e := newTestExtractor(repo, extractorNow)

	email := &emaildomain.Email{
		ID:        "email-1",
		AccountID: "acct-1",
		Subject:   "Budget review",
		Body:      "Hi, please review the Q2 budget proposal by friday. Thanks!",
	}

	n, err := e.ExtractFromEmail(email)
	if err != nil {
		t.Fatalf("ExtractFromEmail: %v", err)
	}
	if n != 1 {
		t.Fatalf("created = %d, want 1", n)
	}

	item := repo.items[0]
	if item.EmailID != "email-1" || item.AccountID != "acct-1" {
		t.Errorf("item linked to %s/%s, want acct-1/email-1", item.AccountID, item.EmailID)
	}
	if !item.AutoCreated {
		t.Error("item not marked auto-created")
	}
	if item.DueDate == nil {
		t.Fatal("expected a due date from 'by friday'")
	}
	if item.DueDate.Weekday() != time.Friday {
		t.Errorf("due weekday = %v, want Friday", item.DueDate.Weekday())
	}
	if item.Status != domain.StatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}
}

func TestExtractFromEmailIsIdempotent(t *testing.T) {
	repo := &fakeActionRepo{}
	e := newTestExtractor(repo, extractorNow)

	email := &emaildomain.Email{
		ID:        "email-1",
		AccountID: "acct-1",
		Subject:   "Action needed",
		Body:      "Could you send the signed contract to legal?",
	}

	if n, err := e.ExtractFromEmail(email); err != nil || n != 1 {
		t.Fatalf("first run: n=%d err=%v, want 1 created", n, err)
	}
	if n, err := e.ExtractFromEmail(email); err != nil || n != 0 {
		t.Fatalf("second run: n=%d err=%v, want 0 created", n, err)
	}
	if len(repo.items) != 1 {
		t.Fatalf("repo has %d items, want 1", len(repo.items))
	}
}

func TestExtractFromEmailNoSignal(t *testing.T) {
	repo := &fakeActionRepo{}
	e := newTestExtractor(repo, extractorNow)

	email := &emaildomain.Email{
		ID:        "email-2",
		AccountID: "acct-1",
		Subject:   "Weekly newsletter",
		Body:      "Here is what happened this week in the world of birds.",
	}

	n, err := e.ExtractFromEmail(email)
	if err != nil {
		t.Fatalf("ExtractFromEmail: %v", err)
	}
	if n != 0 || len(repo.items) != 0 {
		t.Fatalf("created %d item(s) from a no-signal email, want 0", n)
	}
}

func TestExtractFromEmailSkipsSignatureNoise(t *testing.T) {
	repo := &fakeActionRepo{}
	e := newTestExtractor(repo, extractorNow)

	email := &emaildomain.Email{
		ID:        "email-3",
		AccountID: "acct-1",
		Subject:   "Re: lunch",
		Body:      "Sounds good. Could you thank you for your patience everyone",
	}

	n, err := e.ExtractFromEmail(email)
	if err != nil {
		t.Fatalf("ExtractFromEmail: %v", err)
	}
	if n != 0 {
		t.Fatalf("created %d item(s) from signature noise, want 0", n)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Review the Budget", "review the budget"},
		{"  review   the\tbudget  ", "review the budget"},
		{"REVIEW THE BUDGET", "review the budget"},
	}
	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDeadline(t *testing.T) {
	now := extractorNow // Wednesday 2026-03-04 10:00

	endOf := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
	}

	tests := []struct {
		name    string
		content string
		want    *time.Time
	}{
		{
			name:    "within hours",
			content: "needs a response within 3 hours",
			want:    timePtr(now.Add(3 * time.Hour)),
		},
		{
			name:    "within days",
			content: "complete within 2 days please",
			want:    timePtr(now.AddDate(0, 0, 2)),
		},
		{
			name:    "end of day",
			content: "send it by end of day",
			want:    timePtr(endOf(now)),
		},
		{
			name:    "end of week",
			content: "wrap up by end of week",
			want:    timePtr(endOf(now.AddDate(0, 0, 2))), // Friday 3/6
		},
		{
			name:    "end of month",
			content: "invoices due by end of month",
			want:    timePtr(endOf(time.Date(2026, 3, 31, 0, 0, 0, 0, time.Local))),
		},
		{
			name:    "by weekday ahead",
			content: "report due friday morning by friday",
			want:    timePtr(endOf(now.AddDate(0, 0, 2))),
		},
		{
			name:    "by same weekday wraps a week",
			content: "finish by wednesday",
			want:    timePtr(endOf(now.AddDate(0, 0, 7))),
		},
		{
			name:    "by today",
			content: "approval needed by today",
			want:    timePtr(endOf(now)),
		},
		{
			name:    "by tomorrow",
			content: "respond by tomorrow",
			want:    timePtr(endOf(now.AddDate(0, 0, 1))),
		},
		{
			name:    "by date this year",
			content: "submit by 4/15",
			want:    timePtr(time.Date(2026, 4, 15, 23, 59, 59, 0, time.Local)),
		},
		{
			name:    "past date rolls to next year",
			content: "anniversary report due 1/10",
			want:    timePtr(time.Date(2027, 1, 10, 23, 59, 59, 0, time.Local)),
		},
		{
			name:    "day overflows the month",
			content: "due 2/30 somehow",
			want:    nil,
		},
		{
			name:    "no deadline phrase",
			content: "just letting you know the meeting moved",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDeadline(tt.content, now)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParseDeadline(%q) = %v, want %v", tt.content, got, tt.want)
			}
			if got != nil && !got.Equal(*tt.want) {
				t.Errorf("ParseDeadline(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestDeterminePriority(t *testing.T) {
	now := extractorNow

	tests := []struct {
		name    string
		content string
		subject string
		due     *time.Time
		want    domain.Priority
	}{
		{
			name:    "no signals",
			content: "could you look at this when convenient",
			subject: "fyi",
			want:    domain.PriorityLow,
		},
		{
			name:    "action keyword only",
			content: "can you send me the slides",
			subject: "slides",
			want:    domain.PriorityLow,
		},
		{
			name:    "action plus time",
			content: "can you send the slides by the deadline today",
			subject: "slides",
			want:    domain.PriorityMedium,
		},
		{
			name:    "urgent plus time",
			content: "urgent: contract expires today",
			subject: "contract",
			want:    domain.PriorityHigh,
		},
		{
			name:    "everything fires",
			content: "urgent, deadline today, action required, following up again",
			subject: "[URGENT] PAYROLL!!",
			want:    domain.PriorityUrgent,
		},
		{
			name:    "imminent due date forces high",
			content: "could you take a look",
			subject: "review",
			due:     timePtr(now.Add(2 * time.Hour)),
			want:    domain.PriorityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := determinePriority(tt.content, tt.subject, tt.due, now)
			if got != tt.want {
				t.Errorf("determinePriority = %q, want %q", got, tt.want)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }
