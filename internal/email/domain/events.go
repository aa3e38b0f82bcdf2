package domain

// ChangeKind identifies what changed in the local store.
type ChangeKind string

const (
	ChangeEmailCreated      ChangeKind = "email_created"
	ChangeEmailUpdated      ChangeKind = "email_updated"
	ChangeActionItemCreated ChangeKind = "action_item_created"
	ChangeActionItemUpdated ChangeKind = "action_item_updated"
	ChangeTrashPurged       ChangeKind = "trash_purged"
)

// ChangeEvent is published to connected clients after a committed write.
type ChangeEvent struct {
	Kind     ChangeKind `json:"kind"`
	EntityID string     `json:"entity_id"`
}

// Publisher fans change events out to connected clients.
type Publisher interface {
	Publish(accountID string, event ChangeEvent)
}
