// Package card manages the single-choice card life cycle: a card is
// selectable until a response is in flight, then resolves to exactly one of
// selected (terminal) or selectable again (reverted on failure).
package card

import (
	"context"
	"errors"

	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/chat/transcript"
)

var (
	// ErrSelectionInFlight rejects a new selection while another card is
	// awaiting its result.
	ErrSelectionInFlight = errors.New("card: another selection is awaiting its result")

	// ErrCardGone means the targeted card is no longer in the transcript.
	ErrCardGone = errors.New("card: card no longer present")

	// ErrCardResolved rejects selecting a card that already holds an answer.
	ErrCardResolved = errors.New("card: card already answered")
)

// Submitter is the outbound pipeline surface the controller needs.
type Submitter interface {
	Submit(ctx context.Context, req dto.SendMessageRequest) (entity.OutgoingMessage, error)
}

// Notifier toggles card interactivity across the whole transcript while a
// response is in flight.
type Notifier interface {
	SetCardsInteractive(enabled bool)
}

// Controller runs on the session dispatch goroutine, like the ledger it
// mutates.
type Controller struct {
	ledger    *transcript.Ledger
	submitter Submitter
	notifier  Notifier
	logger    logger.ILogger

	// awaitingID is the card with an unresolved response, "" when idle.
	awaitingID     string
	awaitingOption string
}

func NewController(ledger *transcript.Ledger, submitter Submitter, notifier Notifier, log logger.ILogger) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Controller{
		ledger:    ledger,
		submitter: submitter,
		notifier:  notifier,
		logger:    log,
	}
}

// Awaiting reports the card currently disabled awaiting its response, if any.
func (c *Controller) Awaiting() (string, bool) {
	return c.awaitingID, c.awaitingID != ""
}

// Select marks the card awaiting (options disabled everywhere) and submits
// the chosen option through the pipeline, related back to the card. The UI
// boundary already rejects selections while another card is awaiting; the
// controller enforces it again because it owns the invariant.
func (c *Controller) Select(ctx context.Context, option entity.CardOption, cardMessageID string) error {
	if c.awaitingID != "" {
		return ErrSelectionInFlight
	}

	part, row, ok := c.ledger.Find(cardMessageID)
	if !ok {
		return ErrCardGone
	}
	item, _ := c.ledger.Item(part, row)
	if !item.IsCard() {
		return ErrCardGone
	}
	if !item.Active {
		return ErrCardResolved
	}

	item.Active = false
	item.SelectedOption = ""
	c.ledger.ReplaceAt(part, row, item)

	c.awaitingID = cardMessageID
	c.awaitingOption = option.Text
	if c.notifier != nil {
		c.notifier.SetCardsInteractive(false)
	}

	_, err := c.submitter.Submit(ctx, dto.SendMessageRequest{
		Content:        option.Value,
		CardRelationID: cardMessageID,
	})
	if err != nil {
		// Validation never even started a transmission; revert right away.
		c.FailCard(cardMessageID)
		return err
	}
	return nil
}

// ResolveCard finalizes a successful response: the stored card entry is
// replaced in place, inactive and carrying the chosen value. A card that no
// longer exists (e.g. history replaced the transcript) is a no-op.
func (c *Controller) ResolveCard(cardMessageID string, ack entity.Message) {
	option := c.awaitingOption
	if !entity.SameID(c.awaitingID, cardMessageID) {
		// Resolution for a card we are not tracking; take the selection from
		// the acknowledgement if it carries one.
		option = ""
		if ack.Card != nil {
			option = ack.Card.SelectedOption
		}
	}

	c.settle(cardMessageID, func(item *entity.ChatItem) {
		item.Active = false
		item.SelectedOption = option
	})
}

// FailCard reverts the card to selectable with no stored value so the
// visitor can retry. Missing card is a no-op.
func (c *Controller) FailCard(cardMessageID string) {
	c.settle(cardMessageID, func(item *entity.ChatItem) {
		item.Active = true
		item.SelectedOption = ""
	})
}

func (c *Controller) settle(cardMessageID string, mutate func(*entity.ChatItem)) {
	if entity.SameID(c.awaitingID, cardMessageID) {
		c.awaitingID = ""
		c.awaitingOption = ""
	}
	if c.notifier != nil {
		c.notifier.SetCardsInteractive(true)
	}

	part, row, ok := c.ledger.Find(cardMessageID)
	if !ok {
		c.logger.Debug("Card", "Resolve target gone, ignoring", map[string]interface{}{"id": cardMessageID})
		return
	}
	item, _ := c.ledger.Item(part, row)
	if !item.IsCard() {
		return
	}
	mutate(&item)
	c.ledger.ReplaceAt(part, row, item)
}
