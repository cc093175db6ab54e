package models

import "time"

// Message represents one turn entry in a chat transcript. A model message starts with empty Text when it is
// the placeholder of an open turn and grows as fragments arrive.
type Message struct {
	Role      Role
	Text      string
	Timestamp time.Time

	// IsError marks a message that reports an abnormally terminated turn. Once set it is never cleared.
	IsError bool
}

// Role represents the participant that produced a message.
type Role string

const (
	// RoleUser represents a message typed by the visitor.
	RoleUser Role = "user"
	// RoleModel represents a message produced by the remote model, including the synthetic greeting and
	// error notices.
	RoleModel Role = "model"
)

// Fragment is one incremental piece of a streamed model reply. Providers decode their wire chunks into
// this shape once, so an absent text field in a chunk becomes an empty TextDelta.
type Fragment struct {
	TextDelta string
}
