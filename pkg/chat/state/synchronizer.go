// Package state mirrors the engagement lifecycle onto the transcript:
// queue placeholders, operator-connected and transferring markers, the
// pending flush, and composer gating.
package state

import (
	"context"

	"engagement-chat-sdk/internal/config"
	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/chat/transcript"
	"engagement-chat-sdk/pkg/engagement"
)

// State is the engagement lifecycle position.
type State int

const (
	StateNone State = iota
	StateEnqueueing
	StateEnqueued
	StateEngaged
	StateTransferring
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateEnqueueing:
		return "enqueueing"
	case StateEnqueued:
		return "enqueued"
	case StateEngaged:
		return "engaged"
	case StateTransferring:
		return "transferring"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// ParseState maps the backend's wire names. "transferred" collapses into
// engaged; the transfer event carries the new operator.
func ParseState(s string) (State, bool) {
	switch s {
	case "none":
		return StateNone, true
	case "enqueueing":
		return StateEnqueueing, true
	case "enqueued":
		return StateEnqueued, true
	case "engaged", "transferred":
		return StateEngaged, true
	case "transferring":
		return StateTransferring, true
	case "ended":
		return StateEnded, true
	}
	return StateNone, false
}

// Flusher releases the pending outbound queue on engagement.
type Flusher interface {
	FlushPending(ctx context.Context)
}

// PolicyFetcher is implemented by providers that expose per-engagement media
// gating configuration. Fetched once on engagement.
type PolicyFetcher interface {
	FetchMediaPolicy(ctx context.Context) (engagement.MediaPolicy, error)
}

// Notifier gates message composition in the host UI.
type Notifier interface {
	SetComposerEnabled(enabled bool)
}

// Synchronizer consumes the connection-state stream and drives ledger
// mutations. Event application runs on the session dispatch goroutine.
type Synchronizer struct {
	ledger   *transcript.Ledger
	bus      *engagement.Bus
	cfg      config.EngagementConfig
	logger   logger.ILogger
	dispatch func(fn func()) bool

	flusher  Flusher
	notifier Notifier

	// OnEnded fires once when the engagement ends. Optional.
	OnEnded func()

	// policy, when set, is consulted on engagement for attachment gating.
	policy      PolicyFetcher
	mediaPolicy engagement.MediaPolicy

	current      State
	operator     *entity.Operator
	transferring bool
	forceQueue   bool
}

func NewSynchronizer(
	ledger *transcript.Ledger,
	bus *engagement.Bus,
	cfg config.EngagementConfig,
	dispatch func(fn func()) bool,
	log logger.ILogger,
) *Synchronizer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Synchronizer{
		ledger:     ledger,
		bus:        bus,
		cfg:        cfg,
		logger:     log,
		dispatch:   dispatch,
		current:    StateNone,
		forceQueue: cfg.ForceQueue,
	}
}

// SetFlusher installs the pending queue flusher (the outbound pipeline).
func (s *Synchronizer) SetFlusher(f Flusher) {
	s.flusher = f
}

// SetNotifier installs the composer gate.
func (s *Synchronizer) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetPolicyFetcher installs the optional media policy source.
func (s *Synchronizer) SetPolicyFetcher(f PolicyFetcher) {
	s.policy = f
}

// MediaPolicy returns the policy fetched for the active engagement.
// Zero value (nothing allowed) before the first engagement.
func (s *Synchronizer) MediaPolicy() engagement.MediaPolicy {
	return s.mediaPolicy
}

// Current returns the lifecycle position.
func (s *Synchronizer) Current() State {
	return s.current
}

// Operator returns the operator of the active engagement, if any.
func (s *Synchronizer) Operator() *entity.Operator {
	return s.operator
}

// Connected reports whether outbound messages may be transmitted now.
// Engaged-but-forced-to-requeue counts as not connected.
func (s *Synchronizer) Connected() bool {
	return s.current == StateEngaged && !s.forceQueue
}

// Run subscribes to the state and transfer topics and applies events on the
// dispatch context. Returns once subscriptions are established; consumption
// continues until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	states, err := s.bus.Subscribe(ctx, engagement.TopicState)
	if err != nil {
		return err
	}
	transfers, err := s.bus.Subscribe(ctx, engagement.TopicTransfer)
	if err != nil {
		return err
	}

	go func() {
		for msg := range states {
			var evt dto.StateChangedEvent
			if err := engagement.Decode(msg, &evt); err != nil {
				s.logger.Error("StateSync", "Bad state event", map[string]interface{}{"error": err.Error()})
				continue
			}
			s.dispatch(func() { s.applyState(ctx, evt) })
		}
	}()

	go func() {
		for msg := range transfers {
			var evt dto.TransferEvent
			if err := engagement.Decode(msg, &evt); err != nil {
				s.logger.Error("StateSync", "Bad transfer event", map[string]interface{}{"error": err.Error()})
				continue
			}
			s.dispatch(func() { s.applyTransfer(ctx, evt) })
		}
	}()

	return nil
}

// applyState drives the ledger for a lifecycle transition.
func (s *Synchronizer) applyState(ctx context.Context, evt dto.StateChangedEvent) {
	next, ok := ParseState(evt.State)
	if !ok {
		s.logger.Warn("StateSync", "Unknown state, ignoring", map[string]interface{}{"state": evt.State})
		return
	}

	s.logger.Info("StateSync", "State transition", map[string]interface{}{"from": s.current.String(), "to": next.String()})

	switch next {
	case StateEnqueueing:
		// Authenticated transcript resume skips the queue visual.
		if s.cfg.Variant != config.VariantAuthenticated && s.ledger.Count(transcript.PartitionQueueStatus) == 0 {
			s.ledger.Append(entity.NewQueueStatusItem(), transcript.PartitionQueueStatus)
		}

	case StateEnqueued:
		// Placeholder stays up; the enqueue the visitor forced has happened.
		s.forceQueue = false

	case StateEngaged:
		s.engage(ctx, evt.Operator)

	case StateTransferring:
		s.beginTransfer()

	case StateEnded:
		// No ledger mutation here: end-of-session UX is owned by the host.
		// Pending queue and identity state persist until session cleanup.
		if s.current != StateEnded && s.OnEnded != nil {
			s.OnEnded()
		}

	case StateNone:
		// Nothing to mirror.
	}

	s.current = next
}

// applyTransfer handles the dedicated transfer push events, which carry the
// new operator on completion.
func (s *Synchronizer) applyTransfer(ctx context.Context, evt dto.TransferEvent) {
	switch evt.Phase {
	case "transferring":
		s.beginTransfer()
		s.current = StateTransferring
	case "transferred":
		s.engage(ctx, evt.Operator)
		s.current = StateEngaged
	default:
		s.logger.Warn("StateSync", "Unknown transfer phase, ignoring", map[string]interface{}{"phase": evt.Phase})
	}
}

// engage wipes the queue placeholder, announces the operator, releases the
// pending queue, and re-enables composition if a transfer had disabled it.
func (s *Synchronizer) engage(ctx context.Context, operator *entity.Operator) {
	s.ledger.Set(nil, transcript.PartitionQueueStatus)

	if s.transferring {
		s.ledger.RemoveAll(transcript.PartitionLive, func(item entity.ChatItem) bool {
			return item.Kind == entity.KindTransferring
		})
		s.transferring = false
		if s.notifier != nil {
			s.notifier.SetComposerEnabled(true)
		}
	}

	op := entity.Operator{}
	if operator != nil {
		op = *operator
	}
	s.operator = &op
	s.ledger.Append(entity.NewOperatorConnectedItem(op), transcript.PartitionLive)

	s.forceQueue = false
	// Flush after Connected() flips true so re-submissions route live.
	s.current = StateEngaged
	if s.flusher != nil {
		s.flusher.FlushPending(ctx)
	}

	if s.policy != nil {
		go func() {
			policy, err := s.policy.FetchMediaPolicy(ctx)
			if err != nil {
				s.logger.Warn("StateSync", "Media policy fetch failed, attachments stay gated", map[string]interface{}{"error": err.Error()})
				return
			}
			s.dispatch(func() { s.mediaPolicy = policy })
		}()
	}
}

func (s *Synchronizer) beginTransfer() {
	if s.transferring {
		return
	}
	s.transferring = true
	s.ledger.Append(entity.NewTransferringItem(), transcript.PartitionLive)
	if s.notifier != nil {
		s.notifier.SetComposerEnabled(false)
	}
}
