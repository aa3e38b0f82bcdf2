// Package imap implements the mail provider interface for plain IMAP/SMTP
// accounts authenticated with an app password.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	emaildomain "saigbox-backend/internal/email/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Trash mailbox names tried in order when moving a message.
var trashMailboxes = []string{"Trash", "[Gmail]/Trash", "INBOX.Trash", "Deleted Items"}

// Service implements emaildomain.MailProvider over IMAP for reading and
// flag changes and SMTP for sending. Messages are identified by their
// Message-ID header so ids survive mailbox moves; the sync cursor is the
// highest INBOX UID seen.
type Service struct{}

// NewService creates an IMAP provider.
func NewService() *Service {
	return &Service{}
}

func (s *Service) connect(creds emaildomain.ProviderCredentials) (*client.Client, error) {
	if creds.Server == "" || creds.Username == "" {
		return nil, fmt.Errorf("imap connect: %w", emaildomain.ErrUnauthenticated)
	}
	port := creds.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(creds.Server, strconv.Itoa(port))

	c, err := client.DialTLS(addr, &tls.Config{ServerName: creds.Server})
	if err != nil {
		return nil, &emaildomain.ProviderError{Op: "connect", Err: err, Transient: true}
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login for %s: %w", creds.Username, emaildomain.ErrUnauthenticated)
	}
	return c, nil
}

// FetchSince implements MailProvider. The cursor is the highest INBOX UID
// already mirrored; an empty cursor starts from the beginning.
func (s *Service) FetchSince(ctx context.Context, creds emaildomain.ProviderCredentials, cursor string, pageSize int) (*emaildomain.FetchPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.connect(creds)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, &emaildomain.ProviderError{Op: "fetch", Err: err, Transient: true}
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	lastUID := parseCursor(cursor)

	criteria := imap.NewSearchCriteria()
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lastUID+1, 0)
	criteria.Uid = seqSet

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &emaildomain.ProviderError{Op: "fetch", Err: err, Transient: true}
	}

	// A "N:*" UID search echoes the last message even when nothing is new.
	fresh := uids[:0]
	for _, uid := range uids {
		if uid > lastUID {
			fresh = append(fresh, uid)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })

	hasMore := len(fresh) > pageSize
	if hasMore {
		fresh = fresh[:pageSize]
	}
	if len(fresh) == 0 {
		return &emaildomain.FetchPage{NextCursor: formatCursor(lastUID)}, nil
	}

	messages, maxUID, err := s.fetchByUID(c, fresh)
	if err != nil {
		return nil, err
	}
	if maxUID < lastUID {
		maxUID = lastUID
	}

	return &emaildomain.FetchPage{
		Messages:   messages,
		NextCursor: formatCursor(maxUID),
		HasMore:    hasMore,
	}, nil
}

func (s *Service) fetchByUID(c *client.Client, uids []uint32) ([]emaildomain.RemoteMessage, uint32, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	bodySection := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags,
		imap.FetchInternalDate, bodySection.FetchItem(),
	}

	ch := make(chan *imap.Message, len(uids)+8)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, ch)
	}()

	var messages []emaildomain.RemoteMessage
	var maxUID uint32
	for msg := range ch {
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}

		var body string
		var hasAttachments bool
		if literal := msg.GetBody(bodySection); literal != nil {
			body, hasAttachments = parseBody(literal)
		}

		messages = append(messages, convertMessage(msg, body, hasAttachments))
	}
	if err := <-done; err != nil {
		return nil, 0, &emaildomain.ProviderError{Op: "fetch", Err: err, Transient: true}
	}
	return messages, maxUID, nil
}

// ApplyFlags implements MailProvider. Read maps to \Seen, Starred to
// \Flagged; labels become IMAP keywords.
func (s *Service) ApplyFlags(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string, flags emaildomain.Flags) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.connect(creds)
	if err != nil {
		return err
	}
	defer c.Logout()

	seqSet, err := resolveMessage(c, "INBOX", remoteID, false)
	if err != nil {
		return err
	}

	store := func(add bool, flag string) error {
		op := imap.FormatFlagsOp(imap.AddFlags, true)
		if !add {
			op = imap.FormatFlagsOp(imap.RemoveFlags, true)
		}
		return c.UidStore(seqSet, op, []interface{}{flag}, nil)
	}

	if flags.Read != nil {
		if err := store(*flags.Read, imap.SeenFlag); err != nil {
			return &emaildomain.ProviderError{Op: "applyFlags", Err: err, Transient: true}
		}
	}
	if flags.Starred != nil {
		if err := store(*flags.Starred, imap.FlaggedFlag); err != nil {
			return &emaildomain.ProviderError{Op: "applyFlags", Err: err, Transient: true}
		}
	}
	for _, label := range flags.AddLabels {
		if err := store(true, label); err != nil {
			return &emaildomain.ProviderError{Op: "applyFlags", Err: err, Transient: true}
		}
	}
	for _, label := range flags.RemoveLabels {
		if err := store(false, label); err != nil {
			return &emaildomain.ProviderError{Op: "applyFlags", Err: err, Transient: true}
		}
	}
	return nil
}

// Trash implements MailProvider by moving the message to the server's
// trash mailbox.
func (s *Service) Trash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.connect(creds)
	if err != nil {
		return err
	}
	defer c.Logout()

	seqSet, err := resolveMessage(c, "INBOX", remoteID, true)
	if err != nil {
		return err
	}

	var lastErr error
	for _, mailbox := range trashMailboxes {
		if err := uidMove(c, seqSet, mailbox); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return &emaildomain.ProviderError{Op: "trash", Err: lastErr, Transient: false}
}

// Untrash implements MailProvider by moving the message from the trash
// mailbox back to INBOX.
func (s *Service) Untrash(ctx context.Context, creds emaildomain.ProviderCredentials, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.connect(creds)
	if err != nil {
		return err
	}
	defer c.Logout()

	for _, mailbox := range trashMailboxes {
		seqSet, err := resolveMessage(c, mailbox, remoteID, true)
		if err != nil {
			continue
		}
		if err := uidMove(c, seqSet, "INBOX"); err != nil {
			return &emaildomain.ProviderError{Op: "untrash", Err: err, Transient: false}
		}
		return nil
	}
	return &emaildomain.ProviderError{
		Op:        "untrash",
		Err:       fmt.Errorf("message %s not found in trash", remoteID),
		Transient: false,
	}
}

// Send implements MailProvider over implicit-TLS SMTP. The SMTP host is
// derived from the IMAP host by convention (imap.example.com becomes
// smtp.example.com).
func (s *Service) Send(ctx context.Context, creds emaildomain.ProviderCredentials, msg emaildomain.OutgoingMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if creds.Server == "" || creds.Username == "" {
		return "", fmt.Errorf("smtp send: %w", emaildomain.ErrUnauthenticated)
	}

	host := strings.Replace(creds.Server, "imap", "smtp", 1)
	addr := net.JoinHostPort(host, "465")

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: true}
	}

	smtpClient := smtp.NewClient(conn)
	defer smtpClient.Close()

	auth := sasl.NewPlainClient("", creds.Username, creds.Password)
	if err := smtpClient.Auth(auth); err != nil {
		return "", fmt.Errorf("smtp auth for %s: %w", creds.Username, emaildomain.ErrUnauthenticated)
	}

	from := msg.From
	if from == "" {
		from = creds.Username
	}
	messageID := generateMessageID(from)
	raw := buildMessage(from, msg, messageID)

	if err := smtpClient.Mail(from, nil); err != nil {
		return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: false}
	}
	for _, rcpt := range append(append([]string{}, msg.To...), msg.CC...) {
		if err := smtpClient.Rcpt(rcpt, nil); err != nil {
			return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: false}
		}
	}
	writer, err := smtpClient.Data()
	if err != nil {
		return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: true}
	}
	if _, err := writer.Write(raw); err != nil {
		return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: true}
	}
	if err := writer.Close(); err != nil {
		return "", &emaildomain.ProviderError{Op: "send", Err: err, Transient: true}
	}

	return strings.Trim(messageID, "<>"), nil
}

// resolveMessage finds the UID of a message by Message-ID inside mailbox.
// readonly selects the mailbox read-only.
func resolveMessage(c *client.Client, mailbox, remoteID string, readWrite bool) (*imap.SeqSet, error) {
	if _, err := c.Select(mailbox, !readWrite); err != nil {
		return nil, &emaildomain.ProviderError{Op: "select", Err: err, Transient: true}
	}

	seqSet := new(imap.SeqSet)

	if uid, ok := strings.CutPrefix(remoteID, "uid:"); ok {
		n, err := strconv.ParseUint(uid, 10, 32)
		if err != nil {
			return nil, &emaildomain.ProviderError{Op: "resolve", Err: err, Transient: false}
		}
		seqSet.AddNum(uint32(n))
		return seqSet, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", "<"+strings.Trim(remoteID, "<>")+">")
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &emaildomain.ProviderError{Op: "resolve", Err: err, Transient: true}
	}
	if len(uids) == 0 {
		return nil, &emaildomain.ProviderError{
			Op:        "resolve",
			Err:       fmt.Errorf("message %s not found in %s", remoteID, mailbox),
			Transient: false,
		}
	}
	seqSet.AddNum(uids...)
	return seqSet, nil
}

// uidMove moves with UID MOVE when the server supports it, falling back to
// copy, delete and expunge.
func uidMove(c *client.Client, seqSet *imap.SeqSet, destination string) error {
	if err := c.UidMove(seqSet, destination); err == nil {
		return nil
	}
	if err := c.UidCopy(seqSet, destination); err != nil {
		return err
	}
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, op, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return err
	}
	return c.Expunge(nil)
}

func convertMessage(msg *imap.Message, body string, hasAttachments bool) emaildomain.RemoteMessage {
	out := emaildomain.RemoteMessage{
		RemoteID:       "uid:" + strconv.FormatUint(uint64(msg.Uid), 10),
		Body:           body,
		HasAttachments: hasAttachments,
		ReceivedAt:     msg.InternalDate,
		IsRead:         hasFlag(msg.Flags, imap.SeenFlag),
		IsStarred:      hasFlag(msg.Flags, imap.FlaggedFlag),
	}

	if env := msg.Envelope; env != nil {
		if id := strings.Trim(env.MessageId, "<> "); id != "" {
			out.RemoteID = id
		}
		out.Subject = env.Subject
		if !env.Date.IsZero() {
			out.ReceivedAt = env.Date
		}
		if len(env.From) > 0 && env.From[0] != nil {
			out.Sender = env.From[0].Address()
			out.SenderName = strings.TrimSpace(env.From[0].PersonalName)
		}
		for _, to := range env.To {
			if to != nil {
				out.Recipients = append(out.Recipients, to.Address())
			}
		}
		for _, cc := range env.Cc {
			if cc != nil {
				out.CC = append(out.CC, cc.Address())
			}
		}
	}

	snippet := strings.Join(strings.Fields(body), " ")
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	out.Snippet = snippet
	return out
}

// parseBody extracts the text body from a raw RFC 2822 message, preferring
// text/plain over text/html.
func parseBody(literal io.Reader) (string, bool) {
	mr, err := mail.CreateReader(literal)
	if err != nil {
		raw, readErr := io.ReadAll(literal)
		if readErr != nil {
			return "", false
		}
		return string(raw), false
	}
	defer mr.Close()

	var textBody, htmlBody string
	hasAttachments := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(content)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(content)
			}
		case *mail.AttachmentHeader:
			hasAttachments = true
		}
	}

	if textBody != "" {
		return textBody, hasAttachments
	}
	return htmlBody, hasAttachments
}

func buildMessage(from string, msg emaildomain.OutgoingMessage, messageID string) []byte {
	var b strings.Builder
	if msg.FromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", msg.FromName, from)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	if msg.InReplyTo != "" {
		inReplyTo := "<" + strings.Trim(msg.InReplyTo, "<>") + ">"
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", inReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}

func generateMessageID(address string) string {
	domain := "localhost"
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		domain = address[at+1:]
	}
	return fmt.Sprintf("<%d.%s>", time.Now().UnixNano(), domain)
}

func hasFlag(flags []string, target string) bool {
	for _, flag := range flags {
		if flag == target {
			return true
		}
	}
	return false
}

func parseCursor(cursor string) uint32 {
	if cursor == "" {
		return 0
	}
	n, err := strconv.ParseUint(cursor, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func formatCursor(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}
