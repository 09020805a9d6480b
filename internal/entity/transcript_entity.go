package entity

import "strings"

// ChatItemKind discriminates the transcript entry union.
type ChatItemKind int

const (
	KindVisitorMessage ChatItemKind = iota
	KindOperatorMessage
	KindChoiceCard
	KindCustomCard
	KindOutgoingMessage
	KindOperatorConnected
	KindTransferring
	KindQueueStatus
	KindUnreadDivider
)

func (k ChatItemKind) String() string {
	switch k {
	case KindVisitorMessage:
		return "visitor_message"
	case KindOperatorMessage:
		return "operator_message"
	case KindChoiceCard:
		return "choice_card"
	case KindCustomCard:
		return "custom_card"
	case KindOutgoingMessage:
		return "outgoing_message"
	case KindOperatorConnected:
		return "operator_connected"
	case KindTransferring:
		return "transferring"
	case KindQueueStatus:
		return "queue_status"
	case KindUnreadDivider:
		return "unread_divider"
	}
	return "unknown"
}

// ChatItem is one transcript entry. Exactly one of Message / Outgoing /
// Operator is set depending on Kind; system markers carry none of them.
type ChatItem struct {
	Kind     ChatItemKind
	Message  *Message
	Outgoing *OutgoingMessage
	Operator *Operator

	// Failed marks an outgoing entry whose submission failed (retryable).
	Failed bool

	// Card state. Active means the card still accepts a selection.
	Active         bool
	SelectedOption string
}

// NewVisitorItem wraps a backend-delivered visitor message.
func NewVisitorItem(m Message) ChatItem {
	return ChatItem{Kind: KindVisitorMessage, Message: &m}
}

// NewOperatorItem wraps an operator message, promoting it to a card entry
// when a card payload is attached.
func NewOperatorItem(m Message) ChatItem {
	if m.Card != nil {
		kind := KindChoiceCard
		if m.Card.Custom {
			kind = KindCustomCard
		}
		return ChatItem{Kind: kind, Message: &m, Active: m.Card.SelectedOption == "", SelectedOption: m.Card.SelectedOption}
	}
	return ChatItem{Kind: KindOperatorMessage, Message: &m}
}

// NewItemFromMessage routes on the sender.
func NewItemFromMessage(m Message) ChatItem {
	if m.Sender == ParticipantVisitor {
		return NewVisitorItem(m)
	}
	return NewOperatorItem(m)
}

// NewOutgoingItem wraps a not-yet-acknowledged outbound message.
func NewOutgoingItem(o OutgoingMessage) ChatItem {
	return ChatItem{Kind: KindOutgoingMessage, Outgoing: &o}
}

// NewOperatorConnectedItem marks the point an operator joined.
func NewOperatorConnectedItem(op Operator) ChatItem {
	return ChatItem{Kind: KindOperatorConnected, Operator: &op}
}

func NewTransferringItem() ChatItem {
	return ChatItem{Kind: KindTransferring}
}

func NewQueueStatusItem() ChatItem {
	return ChatItem{Kind: KindQueueStatus}
}

func NewUnreadDividerItem() ChatItem {
	return ChatItem{Kind: KindUnreadDivider}
}

// MessageID returns the identifier this entry answers to, or "" for system
// markers. Outgoing entries answer to their client-generated id so the REST
// acknowledgement can find them in place.
func (c ChatItem) MessageID() string {
	switch {
	case c.Message != nil:
		return c.Message.ID
	case c.Outgoing != nil:
		return c.Outgoing.ID.String()
	}
	return ""
}

// SameID compares two backend identifiers the way the backend does.
func SameID(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// IsCard reports whether the entry is an interactive card of either variant.
func (c ChatItem) IsCard() bool {
	return c.Kind == KindChoiceCard || c.Kind == KindCustomCard
}
