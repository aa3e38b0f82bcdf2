// Package fcm delivers push notifications through Firebase Cloud
// Messaging.
package fcm

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Client wraps the Firebase messaging client.
type Client struct {
	messagingClient *messaging.Client
}

// NewClient initializes Firebase from a service account file. An empty
// credentialsFile falls back to application default credentials.
func NewClient(credentialsFile string) (*Client, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	log.Println("[FCM] Client initialized successfully")
	return &Client{messagingClient: messagingClient}, nil
}

// Notification is one push payload. Data carries the event routing
// information the client app uses to deep-link.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// NewEmailNotification builds the payload for a freshly synced email.
func NewEmailNotification(emailID, senderName, subject string) Notification {
	if senderName == "" {
		senderName = "Unknown sender"
	}
	if len(subject) > 100 {
		subject = subject[:97] + "..."
	}
	if subject == "" {
		subject = "(no subject)"
	}
	return Notification{
		Title: fmt.Sprintf("New email from %s", senderName),
		Body:  subject,
		Data: map[string]string{
			"type":     "email_created",
			"email_id": emailID,
		},
	}
}

// ActionItemNotification builds the payload for an auto-extracted action
// item.
func ActionItemNotification(actionItemID, title string) Notification {
	if len(title) > 100 {
		title = title[:97] + "..."
	}
	return Notification{
		Title: "New action item",
		Body:  title,
		Data: map[string]string{
			"type":           "action_item_created",
			"action_item_id": actionItemID,
		},
	}
}

// SendToDevices pushes one notification to every token and returns the
// tokens that failed, so callers can prune stale registrations.
func (c *Client) SendToDevices(ctx context.Context, tokens []string, n Notification) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
			},
		},
	}

	response, err := c.messagingClient.SendEachForMulticast(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM multicast message: %w", err)
	}

	log.Printf("[FCM] Multicast sent: %d success, %d failures", response.SuccessCount, response.FailureCount)

	var failedTokens []string
	for i, resp := range response.Responses {
		if !resp.Success {
			failedTokens = append(failedTokens, tokens[i])
		}
	}
	return failedTokens, nil
}
