package domain

import "time"

// Filter selects a set of emails in the local store. Batch intents resolve
// their target set through a Filter at execution time.
type Filter struct {
	Sender  string `json:"sender,omitempty"`
	Unread  *bool  `json:"unread,omitempty"`
	Starred *bool  `json:"starred,omitempty"`
	// Query matches subject, sender or body (substring, case-insensitive).
	Query string `json:"query,omitempty"`
	// Before restricts to emails received before the given time.
	Before *time.Time `json:"before,omitempty"`
	// InTrash selects trashed instead of inbox emails.
	InTrash bool `json:"in_trash,omitempty"`
	Limit   int  `json:"limit,omitempty"`
}

// IsZero reports whether the filter matches nothing in particular.
func (f Filter) IsZero() bool {
	return f.Sender == "" && f.Unread == nil && f.Starred == nil &&
		f.Query == "" && f.Before == nil && !f.InTrash
}
