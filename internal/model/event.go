package model

import "encoding/json"

// Supported webhook event types. The catalog is static; subscriptions may
// only reference names listed here.
const (
	EventConversationCreated  = "conversation.created"
	EventConversationClosed   = "conversation.closed"
	EventConversationAssigned = "conversation.assigned"
	EventMessageReceived      = "message.received"
	EventMessageSent          = "message.sent"
	EventUserCreated          = "user.created"
)

// EventDescriptor describes one entry of the event catalog.
type EventDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var eventCatalog = []EventDescriptor{
	{Name: EventConversationCreated, Description: "A visitor started a new conversation"},
	{Name: EventConversationClosed, Description: "A conversation was closed"},
	{Name: EventConversationAssigned, Description: "A conversation was assigned to an agent"},
	{Name: EventMessageReceived, Description: "A message was received from a visitor"},
	{Name: EventMessageSent, Description: "A message was sent by an agent or bot"},
	{Name: EventUserCreated, Description: "A new visitor profile was created"},
}

// EventCatalog returns the static list of supported event types.
func EventCatalog() []EventDescriptor {
	out := make([]EventDescriptor, len(eventCatalog))
	copy(out, eventCatalog)
	return out
}

// IsValidEventType reports whether name is a supported event type.
func IsValidEventType(name string) bool {
	for _, e := range eventCatalog {
		if e.Name == name {
			return true
		}
	}
	return false
}

// PlatformEvent is the envelope the chat platform publishes on the event bus.
type PlatformEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
