package dto

import (
	"engagement-chat-sdk/internal/entity"
)

// SendMessageRequest is the visitor-facing compose payload, validated at the
// outbound pipeline boundary before a client id is minted.
type SendMessageRequest struct {
	Content        string             `json:"content" validate:"required_without=Attachment,max=10000"`
	Attachment     *entity.Attachment `json:"attachment,omitempty"`
	CardRelationID string             `json:"card_relation_id,omitempty"`
}

// --- Event bus payloads ---
//
// These cross the in-process bus as JSON; the NATS feed republishes the
// backend's push subjects in the same shapes.

// MessageReceivedEvent is a single push-delivered message.
type MessageReceivedEvent struct {
	Message entity.Message `json:"message"`
}

// MessagesUpdatedEvent is the backend's bulk refresh of already-delivered
// messages (e.g. a card invalidated server-side).
type MessagesUpdatedEvent struct {
	Messages []entity.Message `json:"messages"`
}

// StateChangedEvent announces an engagement lifecycle transition. State uses
// the backend's wire names: none, enqueueing, enqueued, engaged,
// transferring, transferred, ended.
type StateChangedEvent struct {
	State    string           `json:"state"`
	Operator *entity.Operator `json:"operator,omitempty"`
}

// TransferEvent carries the two transfer phases. Phase is "transferring" or
// "transferred"; Operator is set on the latter.
type TransferEvent struct {
	Phase    string           `json:"phase"`
	Operator *entity.Operator `json:"operator,omitempty"`
}

// TypingEvent is the operator typing indicator.
type TypingEvent struct {
	Typing bool `json:"typing"`
}
