// Package outbound turns a visitor's composed message into a transcript
// entry, submits it to the engagement backend, and reconciles the eventual
// acknowledgement or failure against what push delivery may already have
// rendered.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/chat/identity"
	"engagement-chat-sdk/pkg/chat/transcript"
	"engagement-chat-sdk/pkg/engagement"

	"github.com/go-playground/validator/v10"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrRetryInFlight rejects a second retry of the same message before the
	// first resolved.
	ErrRetryInFlight = errors.New("outbound: retry already in flight")

	// ErrUnknownMessage means no failed entry answers to the given client id.
	ErrUnknownMessage = errors.New("outbound: no failed entry for id")
)

// ConnectionGate answers whether messages may be transmitted right now.
// Implemented by the connection state synchronizer; forced requeue and
// not-yet-engaged states both report false.
type ConnectionGate interface {
	Connected() bool
}

// CardResolver routes submission outcomes back to the card a message was
// composed in response to. Implemented by the card controller.
type CardResolver interface {
	ResolveCard(cardMessageID string, ack entity.Message)
	FailCard(cardMessageID string)
}

// Pipeline owns the outbound message lifecycle: composing -> in-flight ->
// delivered or failed (retryable). All methods except the internal transmit
// goroutine must run on the session dispatch goroutine.
type Pipeline struct {
	ledger   *transcript.Ledger
	tracker  *identity.Tracker
	provider engagement.Provider
	validate *validator.Validate
	logger   logger.ILogger

	// dispatch re-enters the session execution context from a network
	// completion goroutine.
	dispatch func(fn func()) bool

	gate  ConnectionGate
	cards CardResolver

	// OnAuthFailure surfaces session/auth failures to the host. Optional.
	OnAuthFailure func(err error)

	// pending holds messages composed while disconnected, in compose order.
	pending []entity.OutgoingMessage

	// inFlight tracks client ids with an unresolved transmission, to
	// coalesce concurrent retries.
	inFlight map[string]struct{}

	flushing bool
}

func NewPipeline(
	ledger *transcript.Ledger,
	tracker *identity.Tracker,
	provider engagement.Provider,
	dispatch func(fn func()) bool,
	log logger.ILogger,
) *Pipeline {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pipeline{
		ledger:   ledger,
		tracker:  tracker,
		provider: provider,
		validate: validator.New(),
		logger:   log,
		dispatch: dispatch,
		inFlight: make(map[string]struct{}),
	}
}

// SetGate installs the connection state query. Wiring order: the gate is the
// synchronizer, which itself needs this pipeline for the pending flush.
func (p *Pipeline) SetGate(gate ConnectionGate) {
	p.gate = gate
}

// SetCardResolver installs the card outcome router.
func (p *Pipeline) SetCardResolver(cards CardResolver) {
	p.cards = cards
}

// PendingCount reports how many composed messages await the next engagement.
func (p *Pipeline) PendingCount() int {
	return len(p.pending)
}

// Submit validates and composes req, writes the optimistic transcript entry,
// and either transmits immediately (connected) or queues it for the next
// engagement. Returns the composed message so callers can track its id.
func (p *Pipeline) Submit(ctx context.Context, req dto.SendMessageRequest) (entity.OutgoingMessage, error) {
	if err := p.validate.Struct(req); err != nil {
		return entity.OutgoingMessage{}, fmt.Errorf("outbound: invalid message: %w", err)
	}

	out := entity.NewOutgoingMessage(req.Content, req.Attachment, req.CardRelationID)

	if p.gate != nil && p.gate.Connected() {
		p.ledger.Append(entity.NewOutgoingItem(out), transcript.PartitionLive)
		p.transmit(ctx, out, transcript.PartitionLive)
		return out, nil
	}

	// Not connected: park it. The entry sits in the pending partition until
	// the synchronizer reports engaged and FlushPending runs.
	p.ledger.Append(entity.NewOutgoingItem(out), transcript.PartitionPending)
	p.pending = append(p.pending, out)
	p.logger.Debug("Outbound", "Message queued while disconnected", map[string]interface{}{"id": out.ID.String(), "queued": len(p.pending)})
	return out, nil
}

// Retry re-submits a failed message: the failed entry is removed, a fresh
// in-flight entry is appended at the end, and transmission restarts. A retry
// while the previous attempt is unresolved returns ErrRetryInFlight.
func (p *Pipeline) Retry(ctx context.Context, clientID string) error {
	if _, busy := p.inFlight[clientID]; busy {
		return ErrRetryInFlight
	}

	part, row, ok := p.ledger.Find(clientID)
	if !ok || part != transcript.PartitionLive {
		return ErrUnknownMessage
	}
	item, _ := p.ledger.Item(part, row)
	if item.Outgoing == nil || !item.Failed {
		return ErrUnknownMessage
	}
	out := *item.Outgoing

	p.ledger.RemoveID(transcript.PartitionLive, clientID)
	p.ledger.Append(entity.NewOutgoingItem(out), transcript.PartitionLive)
	p.transmit(ctx, out, transcript.PartitionLive)
	return nil
}

// FlushPending transmits every queued pending message in compose order.
// Submissions are awaited one at a time so racing completions cannot reorder
// the live partition. Called by the synchronizer on transition to engaged.
func (p *Pipeline) FlushPending(ctx context.Context) {
	if p.flushing || len(p.pending) == 0 {
		return
	}
	p.flushing = true
	queue := p.pending
	p.pending = nil

	p.logger.Info("Outbound", "Flushing pending messages", map[string]interface{}{"count": len(queue)})

	go func() {
		for _, out := range queue {
			ack, err := p.send(ctx, out)
			done := make(chan struct{})
			posted := p.dispatch(func() {
				p.completePending(out, ack, err)
				close(done)
			})
			if !posted {
				// Session closed mid-flush; the backend has its own copy.
				return
			}
			// Wait for the ledger mutation before the next submit so the
			// live partition receives A, B, C in queue order.
			<-done
		}
		p.dispatch(func() {
			p.flushing = false
			// The engagement may have bounced while this flush drained,
			// parking more messages. They go out now, not on a third
			// engagement.
			if len(p.pending) > 0 && p.gate != nil && p.gate.Connected() {
				p.FlushPending(ctx)
			}
		})
	}()
}

// transmit starts the network submission for an optimistic entry already in
// the ledger. Marks the client id in-flight until completion.
func (p *Pipeline) transmit(ctx context.Context, out entity.OutgoingMessage, part transcript.Partition) {
	p.inFlight[out.ID.String()] = struct{}{}
	go func() {
		ack, err := p.send(ctx, out)
		p.dispatch(func() { p.complete(out, part, ack, err) })
	}()
}

// send performs the blocking REST call, routing card responses to the card
// endpoint.
func (p *Pipeline) send(ctx context.Context, out entity.OutgoingMessage) (entity.Message, error) {
	tr := otel.Tracer("outbound/Pipeline")
	ctx, span := tr.Start(ctx, "send",
		trace.WithAttributes(
			attribute.String("message.id", out.ID.String()),
			attribute.Bool("message.card_response", out.CardRelationID != ""),
		),
	)
	defer span.End()

	if out.CardRelationID != "" {
		return p.provider.SubmitCardResponse(ctx, out.CardRelationID, out.Content)
	}
	return p.provider.Submit(ctx, out)
}

// complete reconciles the result of a direct (connected) submission. Runs on
// the dispatch goroutine.
func (p *Pipeline) complete(out entity.OutgoingMessage, part transcript.Partition, ack entity.Message, err error) {
	delete(p.inFlight, out.ID.String())

	if err != nil {
		p.fail(out, part, err)
		return
	}

	// The push delivery of this same message may have landed first. Both
	// completions consult the tracker before touching the ledger, so exactly
	// one entry survives regardless of arrival order.
	if p.tracker.HasReceived(ack.ID) {
		p.ledger.RemoveID(part, out.ID.String())
	} else {
		p.tracker.RegisterReceived(ack.ID)
		p.ledger.Replace(out.ID.String(), entity.NewItemFromMessage(ack))
	}

	if out.CardRelationID != "" && p.cards != nil {
		p.cards.ResolveCard(out.CardRelationID, ack)
	}
}

// completePending reconciles one flushed pending message: the entry leaves
// the pending partition and lands in live as delivered or failed.
func (p *Pipeline) completePending(out entity.OutgoingMessage, ack entity.Message, err error) {
	p.ledger.RemoveID(transcript.PartitionPending, out.ID.String())

	if err != nil {
		failed := entity.NewOutgoingItem(out)
		failed.Failed = true
		p.ledger.Append(failed, transcript.PartitionLive)
		p.notifyFailure(out, err)
		return
	}

	if p.tracker.HasReceived(ack.ID) {
		// Push already rendered it in live; nothing to append.
	} else {
		p.tracker.RegisterReceived(ack.ID)
		p.ledger.Append(entity.NewItemFromMessage(ack), transcript.PartitionLive)
	}

	if out.CardRelationID != "" && p.cards != nil {
		p.cards.ResolveCard(out.CardRelationID, ack)
	}
}

// fail marks the optimistic entry failed in place; the entry is retained and
// retryable.
func (p *Pipeline) fail(out entity.OutgoingMessage, part transcript.Partition, err error) {
	failed := entity.NewOutgoingItem(out)
	failed.Failed = true
	p.ledger.Replace(out.ID.String(), failed)
	p.notifyFailure(out, err)
}

func (p *Pipeline) notifyFailure(out entity.OutgoingMessage, err error) {
	if engagement.IsAuthError(err) {
		p.logger.Error("Outbound", "Session failure on submit", map[string]interface{}{"id": out.ID.String(), "error": err.Error()})
		if p.OnAuthFailure != nil {
			p.OnAuthFailure(err)
		}
	} else {
		p.logger.Warn("Outbound", "Message delivery failed", map[string]interface{}{"id": out.ID.String(), "error": err.Error()})
	}

	if out.CardRelationID != "" && p.cards != nil {
		p.cards.FailCard(out.CardRelationID)
	}
}
