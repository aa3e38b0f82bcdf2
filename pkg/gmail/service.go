package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Cursor formats. An empty cursor starts a full backfill; "page:" cursors
// walk the backfill pages; "hist:" cursors follow the history API
// incrementally afterwards.
const (
	cursorPagePrefix = "page:"
	cursorHistPrefix = "hist:"
)

// Service implements emaildomain.MailProvider over the Gmail API.
type Service struct {
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
}

// notifyTokenSource wraps a token source and invokes the persistence
// callback whenever the access token rotates.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback emaildomain.TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// NewService creates a Gmail provider. The limiter keeps bursts of message
// fetches under the per-user quota.
func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		limiter:      rate.NewLimiter(rate.Limit(25), 50),
	}
}

func (s *Service) gmailService(ctx context.Context, creds emaildomain.ProviderCredentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: creds.OnTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}
	return srv, nil
}

func (s *Service) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// FetchSince implements MailProvider. An empty cursor starts a full
// backfill; once the backfill drains, the cursor switches to Gmail history
// ids and later calls return only changed messages.
func (s *Service) FetchSince(ctx context.Context, creds emaildomain.ProviderCredentials, cursor string, pageSize int) (*emaildomain.FetchPage, error) {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return nil, classify("fetch", err)
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	switch {
	case cursor == "":
		return s.startBackfill(ctx, srv, pageSize)
	case strings.HasPrefix(cursor, cursorPagePrefix):
		historyID, pageToken, ok := splitPageCursor(cursor)
		if !ok {
			return s.startBackfill(ctx, srv, pageSize)
		}
		return s.backfillPage(ctx, srv, historyID, pageToken, pageSize)
	case strings.HasPrefix(cursor, cursorHistPrefix):
		return s.fetchHistory(ctx, srv, strings.TrimPrefix(cursor, cursorHistPrefix), pageSize)
	default:
		// Unknown cursor format; resync from scratch.
		return s.startBackfill(ctx, srv, pageSize)
	}
}

// startBackfill records the mailbox's current history id, then lists from
// the newest message. The history id is captured before listing so changes
// during the backfill are replayed afterwards.
func (s *Service) startBackfill(ctx context.Context, srv *gmail.Service, pageSize int) (*emaildomain.FetchPage, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, classify("fetch", err)
	}
	historyID := strconv.FormatUint(profile.HistoryId, 10)
	return s.backfillPage(ctx, srv, historyID, "", pageSize)
}

func (s *Service) backfillPage(ctx context.Context, srv *gmail.Service, historyID, pageToken string, pageSize int) (*emaildomain.FetchPage, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	listCall := srv.Users.Messages.List("me").
		Q("in:anywhere -in:spam").
		MaxResults(int64(pageSize)).
		Context(ctx)
	if pageToken != "" {
		listCall = listCall.PageToken(pageToken)
	}

	resp, err := listCall.Do()
	if err != nil {
		return nil, classify("fetch", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	messages, err := s.fetchMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &emaildomain.FetchPage{Messages: messages}
	if resp.NextPageToken != "" {
		page.NextCursor = cursorPagePrefix + historyID + ":" + resp.NextPageToken
		page.HasMore = true
	} else {
		page.NextCursor = cursorHistPrefix + historyID
	}
	return page, nil
}

func (s *Service) fetchHistory(ctx context.Context, srv *gmail.Service, historyID string, pageSize int) (*emaildomain.FetchPage, error) {
	startID, err := strconv.ParseUint(historyID, 10, 64)
	if err != nil {
		return s.startBackfill(ctx, srv, pageSize)
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := srv.Users.History.List("me").
		StartHistoryId(startID).
		MaxResults(int64(pageSize)).
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			// The history window expired; Gmail requires a full resync.
			log.Printf("[Gmail] History id %s expired, restarting backfill", historyID)
			return s.startBackfill(ctx, srv, pageSize)
		}
		return nil, classify("fetch", err)
	}

	// Collect changed message ids, deduped. Deletions have no message to
	// fetch and are dropped; the trash flow covers user-visible removal.
	changed := make(map[string]bool)
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			changed[added.Message.Id] = true
		}
		for _, la := range h.LabelsAdded {
			changed[la.Message.Id] = true
		}
		for _, lr := range h.LabelsRemoved {
			changed[lr.Message.Id] = true
		}
	}
	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	messages, err := s.fetchMessages(ctx, srv, ids)
	if err != nil {
		return nil, err
	}

	page := &emaildomain.FetchPage{Messages: messages}
	if resp.HistoryId != 0 {
		page.NextCursor = cursorHistPrefix + strconv.FormatUint(resp.HistoryId, 10)
	} else {
		page.NextCursor = cursorHistPrefix + historyID
	}
	page.HasMore = resp.NextPageToken != ""
	return page, nil
}

// fetchMessages loads full messages in parallel with bounded concurrency.
// Messages deleted between listing and fetching are skipped.
func (s *Service) fetchMessages(ctx context.Context, srv *gmail.Service, ids []string) ([]emaildomain.RemoteMessage, error) {
	type result struct {
		index int
		msg   *emaildomain.RemoteMessage
		err   error
	}

	results := make(chan result, len(ids))
	semaphore := make(chan struct{}, 10)

	for i, id := range ids {
		go func(index int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := s.wait(ctx); err != nil {
				results <- result{index: index, err: err}
				return
			}
			fullMsg, err := srv.Users.Messages.Get("me", msgID).Format("full").Context(ctx).Do()
			if err != nil {
				var gerr *googleapi.Error
				if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
					results <- result{index: index}
					return
				}
				results <- result{index: index, err: err}
				return
			}
			converted := convertMessage(fullMsg)
			results <- result{index: index, msg: &converted}
		}(i, id)
	}

	ordered := make([]*emaildomain.RemoteMessage, len(ids))
	for range ids {
		r := <-results
		if r.err != nil {
			return nil, classify("fetch", r.err)
		}
		ordered[r.index] = r.msg
	}

	messages := make([]emaildomain.RemoteMessage, 0, len(ids))
	for _, m := range ordered {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	return messages, nil
}

// ApplyFlags implements MailProvider via messages.modify.
func (s *Service) ApplyFlags(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string, flags emaildomain.Flags) error {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return classify("applyFlags", err)
	}

	modifyReq := &gmail.ModifyMessageRequest{
		AddLabelIds:    append([]string{}, flags.AddLabels...),
		RemoveLabelIds: append([]string{}, flags.RemoveLabels...),
	}
	if flags.Read != nil {
		if *flags.Read {
			modifyReq.RemoveLabelIds = append(modifyReq.RemoveLabelIds, "UNREAD")
		} else {
			modifyReq.AddLabelIds = append(modifyReq.AddLabelIds, "UNREAD")
		}
	}
	if flags.Starred != nil {
		if *flags.Starred {
			modifyReq.AddLabelIds = append(modifyReq.AddLabelIds, "STARRED")
		} else {
			modifyReq.RemoveLabelIds = append(modifyReq.RemoveLabelIds, "STARRED")
		}
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := srv.Users.Messages.Modify("me", remoteID, modifyReq).Context(ctx).Do(); err != nil {
		return classify("applyFlags", err)
	}
	return nil
}

// Trash implements MailProvider.
func (s *Service) Trash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return classify("trash", err)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := srv.Users.Messages.Trash("me", remoteID).Context(ctx).Do(); err != nil {
		return classify("trash", err)
	}
	return nil
}

// Untrash implements MailProvider.
func (s *Service) Untrash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return classify("untrash", err)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := srv.Users.Messages.Untrash("me", remoteID).Context(ctx).Do(); err != nil {
		return classify("untrash", err)
	}
	return nil
}

// Send implements MailProvider. Reply threading uses the In-Reply-To and
// References headers plus the Gmail thread id.
func (s *Service) Send(ctx context.Context, creds emaildomain.ProviderCredentials, msg emaildomain.OutgoingMessage) (string, error) {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return "", classify("send", err)
	}

	var raw bytes.Buffer
	if msg.FromName != "" && msg.From != "" {
		encodedName := fmt.Sprintf("=?utf-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(msg.FromName)))
		raw.WriteString(fmt.Sprintf("From: %s <%s>\r\n", encodedName, msg.From))
	} else if msg.From != "" {
		raw.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	}
	raw.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.CC) > 0 {
		raw.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.CC, ", ")))
	}
	encodedSubject := fmt.Sprintf("=?utf-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(msg.Subject)))
	raw.WriteString(fmt.Sprintf("Subject: %s\r\n", encodedSubject))
	if msg.InReplyTo != "" {
		raw.WriteString(fmt.Sprintf("In-Reply-To: <%s>\r\n", msg.InReplyTo))
		raw.WriteString(fmt.Sprintf("References: <%s>\r\n", msg.InReplyTo))
	}
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	raw.WriteString(msg.Body)
	raw.WriteString("\r\n")

	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw.Bytes()),
		ThreadId: msg.ThreadID,
	}

	if err := s.wait(ctx); err != nil {
		return "", err
	}
	sent, err := srv.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
	if err != nil {
		return "", classify("send", err)
	}
	return sent.Id, nil
}

// Watch sets up Pub/Sub push notifications for the mailbox. Any existing
// watch is stopped first; Gmail allows one client per user.
func (s *Service) Watch(ctx context.Context, creds emaildomain.ProviderCredentials, topicName string) error {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return classify("watch", err)
	}

	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := srv.Users.Watch("me", req).Context(ctx).Do()
	if err != nil {
		return classify("watch", err)
	}
	log.Printf("[Gmail] Watch started, expiration %d, history id %d", resp.Expiration, resp.HistoryId)
	return nil
}

// Stop stops push notifications for the mailbox.
func (s *Service) Stop(ctx context.Context, creds emaildomain.ProviderCredentials) error {
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return classify("stop", err)
	}
	if err := srv.Users.Stop("me").Context(ctx).Do(); err != nil {
		return classify("stop", err)
	}
	return nil
}

// classify maps Gmail API failures onto the domain error taxonomy: 401 and
// invalid_grant become ErrUnauthenticated, 429 and 5xx are transient,
// everything else is permanent.
func classify(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("gmail %s: %w", op, emaildomain.ErrUnauthenticated)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return fmt.Errorf("gmail %s: %w", op, emaildomain.ErrUnauthenticated)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return &emaildomain.ProviderError{Op: op, Err: err, Transient: true}
		default:
			return &emaildomain.ProviderError{Op: op, Err: err, Transient: false}
		}
	}

	// Network-level failures are transient.
	return &emaildomain.ProviderError{Op: op, Err: err, Transient: true}
}

func splitPageCursor(cursor string) (historyID, pageToken string, ok bool) {
	rest := strings.TrimPrefix(cursor, cursorPagePrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

func convertMessage(msg *gmail.Message) emaildomain.RemoteMessage {
	from := getHeader(msg.Payload.Headers, "From")
	senderEmail := from
	senderName := ""
	// Split "Name <email@example.com>" into its parts.
	if idx := strings.Index(from, "<"); idx >= 0 {
		senderName = strings.Trim(strings.TrimSpace(from[:idx]), `"`)
		senderEmail = strings.Trim(from[idx:], "<> ")
	}

	body, isHTML := getEmailBody(msg.Payload)
	snippet := msg.Snippet
	if snippet == "" {
		snippet = body
		if isHTML {
			snippet = htmlTagRe.ReplaceAllString(snippet, " ")
		}
		snippet = strings.Join(strings.Fields(snippet), " ")
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
	}

	return emaildomain.RemoteMessage{
		RemoteID:       msg.Id,
		ThreadID:       msg.ThreadId,
		Subject:        getHeader(msg.Payload.Headers, "Subject"),
		Sender:         senderEmail,
		SenderName:     senderName,
		Recipients:     splitAddresses(getHeader(msg.Payload.Headers, "To")),
		CC:             splitAddresses(getHeader(msg.Payload.Headers, "Cc")),
		Body:           body,
		Snippet:        snippet,
		Labels:         msg.LabelIds,
		IsRead:         !hasLabel(msg.LabelIds, "UNREAD"),
		IsStarred:      hasLabel(msg.LabelIds, "STARRED"),
		HasAttachments: hasAttachments(msg.Payload),
		ReceivedAt:     time.Unix(msg.InternalDate/1000, 0),
		Trashed:        hasLabel(msg.LabelIds, "TRASH"),
	}
}

func splitAddresses(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						htmlBody = string(data)
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						plainBody = string(data)
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, htmlBody != ""
}

func hasAttachments(payload *gmail.MessagePart) bool {
	found := false

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				found = true
				return
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}

	walk(payload.Parts)
	return found
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
