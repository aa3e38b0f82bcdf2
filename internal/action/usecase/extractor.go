package usecase

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"saigbox-backend/internal/action/domain"
	"saigbox-backend/internal/action/repository"
	emaildomain "saigbox-backend/internal/email/domain"
)

// Keyword tiers for priority scoring. Each tier counts once.
var (
	urgentKeywords = []string{
		"urgent", "asap", "critical", "emergency", "immediate",
		"crisis", "escalation", "blocker", "showstopper",
	}
	timeKeywords = []string{
		"today", "tomorrow", "eod", "cob", "deadline", "due date",
		"by end of", "within", "expires", "expiring", "overdue",
	}
	actionKeywords = []string{
		"please review", "need approval", "waiting for", "action required",
		"please confirm", "please respond", "need your", "require your",
		"can you", "could you", "would you", "will you",
	}
	followupKeywords = []string{
		"follow up", "following up", "reminder", "second request",
		"haven't heard", "checking in", "any update", "status update",
	}
)

// Candidate phrase patterns. Group 1 is the task text.
var candidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)(?:please|could you|can you|would you|will you)\s+([^.?!\n]{5,80})`),
	regexp.MustCompile(`(?im)(?:need to|needs to|must|should|have to)\s+([^.?!\n]{5,80})`),
	regexp.MustCompile(`(?im)^(?:review|complete|send|submit|prepare|schedule|call|email|contact|finish)\s+([^.?!\n]{5,80})`),
	regexp.MustCompile(`(?im)^\d+[.)]\s*([^.?!\n]{5,100})`),
	regexp.MustCompile(`(?im)^[-*•]\s*([^.?!\n]{5,100})`),
}

// Phrases that mark a candidate as signature noise rather than a task.
var skipPhrases = []string{"thank you", "thanks", "regards", "sincerely", "best"}

// Deadline phrase patterns over lowercased text.
var (
	byWeekdayRe = regexp.MustCompile(`(?:by|due|before)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|today|tomorrow)`)
	byDateRe    = regexp.MustCompile(`(?:by|due|before)\s+(\d{1,2})/(\d{1,2})`)
	withinRe    = regexp.MustCompile(`within\s+(\d+)\s+(hours?|days?)`)
	endOfRe     = regexp.MustCompile(`by\s+end\s+of\s+(day|week|month|today)`)
	priorityTag = regexp.MustCompile(`\[(urgent|important|action|priority)\]`)
	wsRe        = regexp.MustCompile(`\s+`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday, "sunday": time.Sunday,
}

// Extractor derives action items from email content using keyword and
// phrase heuristics. It runs once per new or content-changed email, after
// the sync transaction commits.
type Extractor struct {
	actionRepo repository.ActionItemRepository
	publisher  emaildomain.Publisher
	now        func() time.Time
}

// NewExtractor creates an Extractor.
func NewExtractor(actionRepo repository.ActionItemRepository, publisher emaildomain.Publisher) *Extractor {
	return &Extractor{
		actionRepo: actionRepo,
		publisher:  publisher,
		now:        time.Now,
	}
}

// ExtractFromEmail analyzes one email and persists zero or more action
// items. Returns the number of items created. An email with no action or
// urgency signal produces nothing; re-running on the same content is a
// no-op because candidates dedup on normalized title.
func (e *Extractor) ExtractFromEmail(email *emaildomain.Email) (int, error) {
	candidates := extractCandidates(email.Subject, email.Body)
	if len(candidates) == 0 {
		return 0, nil
	}

	content := strings.ToLower(email.Subject + " " + email.Body)
	now := e.now()
	created := 0

	for _, c := range candidates {
		normalized := NormalizeTitle(c.title)
		existing, err := e.actionRepo.FindOpenByNormalizedTitle(email.ID, normalized)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		due := ParseDeadline(content, now)
		item := &domain.ActionItem{
			AccountID:       email.AccountID,
			EmailID:         email.ID,
			Title:           c.title,
			NormalizedTitle: normalized,
			DueDate:         due,
			Priority:        determinePriority(content, email.Subject, due, now),
			Status:          domain.StatusPending,
			AutoCreated:     true,
			SourceQuote:     c.quote,
		}
		if err := e.actionRepo.Create(item); err != nil {
			return created, fmt.Errorf("create action item: %w", err)
		}
		created++

		if e.publisher != nil {
			e.publisher.Publish(email.AccountID, emaildomain.ChangeEvent{
				Kind:     emaildomain.ChangeActionItemCreated,
				EntityID: item.ID,
			})
		}
	}

	if created > 0 {
		log.Printf("[Extractor] Created %d action item(s) from email %s", created, email.ID)
	}
	return created, nil
}

type candidate struct {
	title string
	quote string
}

// extractCandidates pulls task-like phrases out of the subject and body.
// No matching phrase means no candidates, regardless of urgency keywords.
func extractCandidates(subject, body string) []candidate {
	fullText := subject + "\n" + body
	var out []candidate

	for _, re := range candidatePatterns {
		for _, m := range re.FindAllStringSubmatch(fullText, -1) {
			text := strings.TrimSpace(m[1])
			if len(text) < 10 || len(text) > 200 {
				continue
			}
			lower := strings.ToLower(text)
			skip := false
			for _, p := range skipPhrases {
				if strings.Contains(lower, p) {
					skip = true
					break
				}
			}
			if skip {
				continue
			}
			dup := false
			for _, existing := range out {
				if similarity(existing.title, text) > 0.8 {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			out = append(out, candidate{title: text, quote: strings.TrimSpace(m[0])})
		}
	}
	return out
}

// NormalizeTitle lowercases and collapses whitespace so near-identical
// titles dedup to the same key.
func NormalizeTitle(title string) string {
	return wsRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), " ")
}

// ParseDeadline finds the first recognizable deadline phrase in the
// lowercased content. Phrases with a time signal but no parseable date
// yield nil rather than a guess.
func ParseDeadline(content string, now time.Time) *time.Time {
	if m := withinRe.FindStringSubmatch(content); m != nil {
		amount, err := strconv.Atoi(m[1])
		if err == nil {
			var due time.Time
			if strings.HasPrefix(m[2], "hour") {
				due = now.Add(time.Duration(amount) * time.Hour)
			} else {
				due = now.AddDate(0, 0, amount)
			}
			return &due
		}
	}

	if m := endOfRe.FindStringSubmatch(content); m != nil {
		if due := parseEndOf(m[1], now); due != nil {
			return due
		}
	}

	if m := byWeekdayRe.FindStringSubmatch(content); m != nil {
		switch m[1] {
		case "today":
			due := endOfDay(now)
			return &due
		case "tomorrow":
			due := endOfDay(now.AddDate(0, 0, 1))
			return &due
		default:
			target := weekdays[m[1]]
			ahead := (int(target) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			due := endOfDay(now.AddDate(0, 0, ahead))
			return &due
		}
	}

	if m := byDateRe.FindStringSubmatch(content); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil
		}
		due := time.Date(now.Year(), time.Month(month), day, 23, 59, 59, 0, now.Location())
		if due.Month() != time.Month(month) {
			// Day overflowed the month, e.g. 2/30.
			return nil
		}
		if due.Before(now) {
			due = due.AddDate(1, 0, 0)
		}
		return &due
	}

	return nil
}

func parseEndOf(period string, now time.Time) *time.Time {
	switch period {
	case "day", "today":
		due := endOfDay(now)
		return &due
	case "week":
		ahead := (int(time.Friday) - int(now.Weekday()) + 7) % 7
		due := endOfDay(now.AddDate(0, 0, ahead))
		return &due
	case "month":
		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		due := endOfDay(firstOfNext.AddDate(0, 0, -1))
		return &due
	}
	return nil
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// determinePriority scores the content against the keyword tiers plus
// subject-line boosts, then maps the score onto the priority enum. A due
// date inside 24 hours forces at least high.
func determinePriority(content, subject string, due *time.Time, now time.Time) domain.Priority {
	score := 0

	if containsAny(content, urgentKeywords) {
		score += 30
	}
	if containsAny(content, timeKeywords) {
		score += 20
	}
	if containsAny(content, actionKeywords) {
		score += 15
	}
	if containsAny(content, followupKeywords) {
		score += 15
	}

	for _, word := range strings.Fields(subject) {
		if len(word) > 2 && word == strings.ToUpper(word) && word != strings.ToLower(word) {
			score += 10
			break
		}
	}
	if strings.Contains(subject, "!!") {
		score += 10
	}
	if priorityTag.MatchString(strings.ToLower(subject)) {
		score += 20
	}

	priority := domain.PriorityLow
	switch {
	case score >= 60:
		priority = domain.PriorityUrgent
	case score >= 40:
		priority = domain.PriorityHigh
	case score >= 20:
		priority = domain.PriorityMedium
	}

	if due != nil && due.Sub(now) <= 24*time.Hour && priority != domain.PriorityUrgent {
		priority = domain.PriorityHigh
	}
	return priority
}

func containsAny(content string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}

// similarity is word-set Jaccard similarity, used to drop near-duplicate
// candidates inside one email.
func similarity(a, b string) float64 {
	wordsA := toSet(strings.Fields(strings.ToLower(a)))
	wordsB := toSet(strings.Fields(strings.ToLower(b)))
	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 0
	}
	inter := 0
	for w := range wordsA {
		if wordsB[w] {
			inter++
		}
	}
	union := len(wordsA) + len(wordsB) - inter
	return float64(inter) / float64(union)
}

func toSet(words []string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}
