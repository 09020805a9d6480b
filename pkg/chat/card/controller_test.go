package card

import (
	"context"
	"errors"
	"testing"

	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/pkg/chat/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSubmitter struct {
	requests []dto.SendMessageRequest
	err      error
}

func (s *captureSubmitter) Submit(ctx context.Context, req dto.SendMessageRequest) (entity.OutgoingMessage, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return entity.OutgoingMessage{}, s.err
	}
	return entity.NewOutgoingMessage(req.Content, req.Attachment, req.CardRelationID), nil
}

type captureNotifier struct {
	interactive []bool
}

func (n *captureNotifier) SetCardsInteractive(enabled bool) {
	n.interactive = append(n.interactive, enabled)
}

func choiceCard(id string) entity.Message {
	return entity.Message{
		ID:     id,
		Sender: entity.ParticipantOperator,
		Card: &entity.Card{
			Text: "Pick a department",
			Options: []entity.CardOption{
				{Text: "Billing", Value: "dept:billing"},
				{Text: "Support", Value: "dept:support"},
			},
		},
	}
}

func newFixture() (*Controller, *transcript.Ledger, *captureSubmitter, *captureNotifier) {
	ledger := transcript.NewLedger(nil)
	submitter := &captureSubmitter{}
	notifier := &captureNotifier{}
	return NewController(ledger, submitter, notifier, nil), ledger, submitter, notifier
}

func TestSelectDisablesCardAndSubmitsValue(t *testing.T) {
	c, ledger, submitter, notifier := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Billing", Value: "dept:billing"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.False(t, item.Active)

	require.Len(t, submitter.requests, 1)
	assert.Equal(t, "dept:billing", submitter.requests[0].Content)
	assert.Equal(t, "card-1", submitter.requests[0].CardRelationID)

	assert.Equal(t, []bool{false}, notifier.interactive)
	id, awaiting := c.Awaiting()
	assert.True(t, awaiting)
	assert.Equal(t, "card-1", id)
}

func TestSelectSingleFlight(t *testing.T) {
	c, ledger, _, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)
	ledger.Append(entity.NewOperatorItem(choiceCard("card-2")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Billing", Value: "dept:billing"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))

	err := c.Select(context.Background(), opt, "card-2")
	assert.ErrorIs(t, err, ErrSelectionInFlight)
}

func TestSelectRejectsAnsweredCard(t *testing.T) {
	c, ledger, _, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Billing", Value: "dept:billing"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))
	c.ResolveCard("card-1", entity.Message{ID: "srv-1"})

	// The stored answer must survive a stray re-selection attempt.
	err := c.Select(context.Background(), opt, "card-1")
	assert.ErrorIs(t, err, ErrCardResolved)

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.False(t, item.Active)
	assert.Equal(t, "Billing", item.SelectedOption)
}

func TestSelectRejectsCardDeliveredAnswered(t *testing.T) {
	c, ledger, _, _ := newFixture()
	answered := choiceCard("card-1")
	answered.Card.SelectedOption = "Support"
	ledger.Append(entity.NewOperatorItem(answered), transcript.PartitionLive)

	err := c.Select(context.Background(), entity.CardOption{Text: "Billing", Value: "dept:billing"}, "card-1")
	assert.ErrorIs(t, err, ErrCardResolved)
}

func TestSelectMissingCard(t *testing.T) {
	c, _, _, _ := newFixture()
	err := c.Select(context.Background(), entity.CardOption{Text: "x", Value: "x"}, "gone")
	assert.ErrorIs(t, err, ErrCardGone)
}

func TestResolveStoresSelectedOption(t *testing.T) {
	c, ledger, _, notifier := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Support", Value: "dept:support"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))

	c.ResolveCard("card-1", entity.Message{ID: "srv-9", Sender: entity.ParticipantVisitor})

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.False(t, item.Active)
	assert.Equal(t, "Support", item.SelectedOption)

	_, awaiting := c.Awaiting()
	assert.False(t, awaiting)
	// Disabled on select, re-enabled on resolve.
	assert.Equal(t, []bool{false, true}, notifier.interactive)
}

func TestFailRevertsToSelectable(t *testing.T) {
	c, ledger, _, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Billing", Value: "dept:billing"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))

	c.FailCard("card-1")

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.True(t, item.Active)
	assert.Empty(t, item.SelectedOption)

	// A fresh selection is allowed again.
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))
}

func TestImmediateSubmitErrorReverts(t *testing.T) {
	c, ledger, submitter, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)
	submitter.err = errors.New("invalid")

	err := c.Select(context.Background(), entity.CardOption{Text: "Billing", Value: "dept:billing"}, "card-1")
	require.Error(t, err)

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.True(t, item.Active)
	_, awaiting := c.Awaiting()
	assert.False(t, awaiting)
}

func TestResolveMissingCardIsNoOp(t *testing.T) {
	c, ledger, _, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-1")), transcript.PartitionLive)

	opt := entity.CardOption{Text: "Billing", Value: "dept:billing"}
	require.NoError(t, c.Select(context.Background(), opt, "card-1"))

	// History refresh threw the card away before the response resolved.
	ledger.Set(nil, transcript.PartitionLive)

	c.ResolveCard("card-1", entity.Message{ID: "srv-1"})

	_, awaiting := c.Awaiting()
	assert.False(t, awaiting)
}

func TestResolveUntrackedCardUsesAckSelection(t *testing.T) {
	c, ledger, _, _ := newFixture()
	ledger.Append(entity.NewOperatorItem(choiceCard("card-7")), transcript.PartitionLive)

	ack := entity.Message{
		ID:   "srv-2",
		Card: &entity.Card{SelectedOption: "Support"},
	}
	c.ResolveCard("card-7", ack)

	item, _ := ledger.Item(transcript.PartitionLive, 0)
	assert.False(t, item.Active)
	assert.Equal(t, "Support", item.SelectedOption)
}
