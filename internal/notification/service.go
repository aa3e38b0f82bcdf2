// Package notification fans committed change events out to connected
// clients and consumes Gmail push notifications to wake the sync
// scheduler.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	accountrepo "saigbox-backend/internal/account/repository"
	actionrepo "saigbox-backend/internal/action/repository"
	emaildomain "saigbox-backend/internal/email/domain"
	emailrepo "saigbox-backend/internal/email/repository"
	"saigbox-backend/pkg/fcm"
	"saigbox-backend/pkg/sse"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Fanout implements emaildomain.Publisher. Every event goes to the
// account's SSE streams; new-email and new-action-item events also go
// out as push notifications.
type Fanout struct {
	sseManager *sse.Manager
	fcmClient  *fcm.Client
	tokenRepo  accountrepo.DeviceTokenRepository
	emailRepo  emailrepo.EmailRepository
	actionRepo actionrepo.ActionItemRepository
}

// NewFanout creates a Fanout. fcmClient may be nil when push is not
// configured; SSE delivery still works.
func NewFanout(
	sseManager *sse.Manager,
	fcmClient *fcm.Client,
	tokenRepo accountrepo.DeviceTokenRepository,
	emailRepo emailrepo.EmailRepository,
	actionRepo actionrepo.ActionItemRepository,
) *Fanout {
	return &Fanout{
		sseManager: sseManager,
		fcmClient:  fcmClient,
		tokenRepo:  tokenRepo,
		emailRepo:  emailRepo,
		actionRepo: actionRepo,
	}
}

// Publish delivers one committed change event. Delivery is best-effort;
// clients reconcile through list fetches.
func (f *Fanout) Publish(accountID string, event emaildomain.ChangeEvent) {
	f.sseManager.SendToAccount(accountID, string(event.Kind), event)

	if f.fcmClient == nil {
		return
	}
	switch event.Kind {
	case emaildomain.ChangeEmailCreated:
		go f.pushNewEmail(accountID, event.EntityID)
	case emaildomain.ChangeActionItemCreated:
		go f.pushActionItem(accountID, event.EntityID)
	}
}

func (f *Fanout) pushNewEmail(accountID, emailID string) {
	email, err := f.emailRepo.FindByID(emailID)
	if err != nil || email == nil {
		log.Printf("[Notify] Could not load email %s for push: %v", emailID, err)
		return
	}
	sender := email.SenderName
	if sender == "" {
		sender = email.Sender
	}
	f.push(accountID, fcm.NewEmailNotification(email.ID, sender, email.Subject))
}

func (f *Fanout) pushActionItem(accountID, actionItemID string) {
	item, err := f.actionRepo.FindByID(actionItemID)
	if err != nil || item == nil {
		log.Printf("[Notify] Could not load action item %s for push: %v", actionItemID, err)
		return
	}
	f.push(accountID, fcm.ActionItemNotification(item.ID, item.Title))
}

func (f *Fanout) push(accountID string, n fcm.Notification) {
	tokens, err := f.tokenRepo.FindByAccountID(accountID)
	if err != nil {
		log.Printf("[Notify] Error loading device tokens for account %s: %v", accountID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed, err := f.fcmClient.SendToDevices(ctx, tokenStrings, n)
	if err != nil {
		log.Printf("[Notify] Error sending push for account %s: %v", accountID, err)
		return
	}
	for _, token := range failed {
		if err := f.tokenRepo.DeleteToken(token); err != nil {
			log.Printf("[Notify] Failed to prune stale device token: %v", err)
		}
	}
}

// SyncTrigger wakes the scheduler outside its interval.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, accountID string) error
}

// gmailNotification is the Pub/Sub payload Gmail publishes for a watched
// mailbox.
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// PubSubListener consumes Gmail watch notifications and triggers an
// immediate sync for the affected account.
type PubSubListener struct {
	client      *pubsub.Client
	accountRepo accountrepo.AccountRepository
	trigger     SyncTrigger
	topicName   string
	subName     string

	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

// NewPubSubListener creates the listener. An empty credentialsFile uses
// application default credentials.
func NewPubSubListener(
	projectID, topicName, subName string,
	accountRepo accountrepo.AccountRepository,
	trigger SyncTrigger,
	credentialsFile string,
) (*PubSubListener, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(context.Background(), projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	if subName == "" {
		subName = topicName + "-sub"
	}

	return &PubSubListener{
		client:        client,
		accountRepo:   accountRepo,
		trigger:       trigger,
		topicName:     topicName,
		subName:       subName,
		lastHistoryID: make(map[string]uint64),
	}, nil
}

// Start blocks receiving messages until ctx is done. The subscription is
// created on first run when only the topic exists.
func (l *PubSubListener) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting listener on topic %s, subscription %s", l.topicName, l.subName)

	sub := l.client.Subscription(l.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}
	if !exists {
		topic := l.client.Topic(l.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil || !topicExists {
			log.Printf("[PubSub] Topic %s unavailable, cannot create subscription: %v", l.topicName, err)
			return
		}
		sub, err = l.client.CreateSubscription(ctx, l.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription %s", l.subName)
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		l.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[PubSub] Receive stopped: %v", err)
	}
}

func (l *PubSubListener) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var notification gmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	account, err := l.accountRepo.FindByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] Error finding account for %s: %v", notification.EmailAddress, err)
		return
	}
	if account == nil {
		log.Printf("[PubSub] No account for %s, ignoring notification", notification.EmailAddress)
		return
	}

	// Gmail redelivers aggressively; skip history ids we already acted on.
	l.mu.Lock()
	last, seen := l.lastHistoryID[account.ID]
	if seen && notification.HistoryID <= last {
		l.mu.Unlock()
		return
	}
	l.lastHistoryID[account.ID] = notification.HistoryID
	l.mu.Unlock()

	log.Printf("[PubSub] Notification for %s (historyId %d), triggering sync", notification.EmailAddress, notification.HistoryID)
	if err := l.trigger.TriggerSync(ctx, account.ID); err != nil {
		if errors.Is(err, emaildomain.ErrSyncInProgress) {
			return
		}
		log.Printf("[PubSub] Triggered sync for account %s failed: %v", account.ID, err)
	}
}

// Close releases the Pub/Sub client.
func (l *PubSubListener) Close() error {
	return l.client.Close()
}
