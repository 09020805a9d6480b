package entity

import (
	"time"

	"github.com/google/uuid"
)

// Participant identifies who authored a message.
type Participant string

const (
	ParticipantVisitor  Participant = "visitor"
	ParticipantOperator Participant = "operator"
	ParticipantSystem   Participant = "system"
)

// Message is a message as delivered by the engagement backend, either from
// the history endpoint, a REST send acknowledgement, or a push delivery.
// IDs are opaque strings owned by the backend and compared case-insensitively.
type Message struct {
	ID         string
	Content    string
	Sender     Participant
	Attachment *Attachment
	Card       *Card
	CreatedAt  time.Time
}

// Attachment carries file metadata for a message. Transfer of the bytes
// themselves is handled outside this core.
type Attachment struct {
	ID   string
	Name string
	MIME string
	Size int64
	URL  string
}

// Card is a single-choice interactive payload attached to an operator message.
// Custom marks the richer card variant rendered by a host-supplied view.
type Card struct {
	Text           string
	Options        []CardOption
	Custom         bool
	SelectedOption string
}

type CardOption struct {
	Text  string
	Value string
}

// Operator describes the agent on the other side of an engagement.
type Operator struct {
	ID       string
	Name     string
	Title    string
	ImageURL string
}

// OutgoingMessage is a visitor-composed payload on its way to the backend.
// The ID is generated client-side and echoed back by the REST acknowledgement,
// which is what lets the ack and the push delivery of the same message be
// recognized as one.
type OutgoingMessage struct {
	ID             uuid.UUID
	Content        string
	Attachment     *Attachment
	CardRelationID string
	CreatedAt      time.Time
}

// NewOutgoingMessage composes an outbound message with a fresh client id.
func NewOutgoingMessage(content string, attachment *Attachment, cardRelationID string) OutgoingMessage {
	return OutgoingMessage{
		ID:             uuid.New(),
		Content:        content,
		Attachment:     attachment,
		CardRelationID: cardRelationID,
		CreatedAt:      time.Now(),
	}
}
