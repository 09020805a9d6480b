// Package session owns one visitor engagement session end to end: it
// constructs the transcript ledger, identity tracker, outbound pipeline,
// card controller, and state synchronizer, and runs the single logical
// execution context they all mutate state on.
package session

import (
	"context"
	"sync"

	"engagement-chat-sdk/internal/config"
	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/chat/card"
	"engagement-chat-sdk/pkg/chat/identity"
	"engagement-chat-sdk/pkg/chat/outbound"
	"engagement-chat-sdk/pkg/chat/state"
	"engagement-chat-sdk/pkg/chat/transcript"
	"engagement-chat-sdk/pkg/engagement"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UIDelegate is everything the engine tells the host UI. It embeds the
// ledger's incremental change notifications. All callbacks arrive on the
// session dispatch goroutine; hosts hop to their own main thread.
type UIDelegate interface {
	transcript.Delegate

	ScrollToBottom(animated bool)
	SetComposerEnabled(enabled bool)
	SetCardsInteractive(enabled bool)
	UnreadCountChanged(count int)
	OperatorTyping(typing bool)
	SessionEnded()
	AuthFailure(err error)
}

// Manager is the session-scoped context. Components hold handles into it for
// at most the session lifetime; Close tears everything down.
type Manager struct {
	cfg      config.EngagementConfig
	provider engagement.Provider
	bus      *engagement.Bus
	logger   logger.ILogger

	ledger    *transcript.Ledger
	tracker   *identity.Tracker
	pipeline  *outbound.Pipeline
	cards     *card.Controller
	stateSync *state.Synchronizer

	delegate UIDelegate

	// queue is the single logical execution context. Every async completion
	// (history fetch, REST ack, push delivery) is posted here before touching
	// shared state, which makes each consult-then-mutate pair atomic.
	queue chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	unread int

	// historyGen supersedes stale in-flight history loads.
	historyGen int
}

// NewManager wires a session. delegate may be nil (headless use, tests).
func NewManager(
	provider engagement.Provider,
	bus *engagement.Bus,
	cfg config.EngagementConfig,
	delegate UIDelegate,
	log logger.ILogger,
) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}

	m := &Manager{
		cfg:      cfg,
		provider: provider,
		bus:      bus,
		logger:   log,
		delegate: delegate,
		queue:    make(chan func(), 256),
		done:     make(chan struct{}),
	}

	m.ledger = transcript.NewLedger(log)
	if delegate != nil {
		m.ledger.SetDelegate(delegate)
	}
	m.tracker = identity.NewTracker()

	m.pipeline = outbound.NewPipeline(m.ledger, m.tracker, provider, m.Dispatch, log)
	m.pipeline.OnAuthFailure = m.notifyAuthFailure

	m.stateSync = state.NewSynchronizer(m.ledger, bus, cfg, m.Dispatch, log)
	m.stateSync.SetFlusher(m.pipeline)
	m.stateSync.SetNotifier(composerGate{m})
	m.stateSync.OnEnded = m.notifyEnded
	if pf, ok := provider.(state.PolicyFetcher); ok {
		m.stateSync.SetPolicyFetcher(pf)
	}
	m.pipeline.SetGate(m.stateSync)

	m.cards = card.NewController(m.ledger, m.pipeline, cardGate{m}, log)
	m.pipeline.SetCardResolver(m.cards)

	return m
}

// Start spins up the dispatch loop, subscribes to the push stream, and kicks
// off the initial history load.
func (m *Manager) Start(ctx context.Context) error {
	go m.run()

	if err := m.stateSync.Run(ctx); err != nil {
		return err
	}
	if err := m.consumeMessages(ctx); err != nil {
		return err
	}

	m.Dispatch(func() { m.loadHistory(ctx) })
	return nil
}

// run drains the dispatch queue. The only goroutine that touches the ledger,
// tracker, pipeline bookkeeping, card state, or synchronizer state.
func (m *Manager) run() {
	defer close(m.done)
	for fn := range m.queue {
		fn()
	}
}

// Dispatch posts fn onto the session execution context and reports whether
// it was accepted. Posts after Close are dropped; a stale completion
// mutating torn-down state is worse than a lost notification.
func (m *Manager) Dispatch(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue <- fn
	return true
}

// dispatchSync runs fn on the execution context and waits for it. Used by
// the public API so callers get synchronous answers without ever racing the
// event stream.
func (m *Manager) dispatchSync(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.queue <- func() {
		fn()
		close(done)
	}
	m.mu.Unlock()
	<-done
}

// Close stops the dispatch loop and clears identity state. Pending messages
// and unread state die with the session; the backend keeps its own copy.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	m.tracker.Reset()
}

// --- Public API (host-facing, safe from any goroutine) ---

// Send composes and submits a visitor message.
func (m *Manager) Send(ctx context.Context, req dto.SendMessageRequest) (entity.OutgoingMessage, error) {
	var (
		out entity.OutgoingMessage
		err error
	)
	m.dispatchSync(func() { out, err = m.pipeline.Submit(ctx, req) })
	return out, err
}

// Retry resubmits a failed message by its client id.
func (m *Manager) Retry(ctx context.Context, clientID string) error {
	var err error
	m.dispatchSync(func() { err = m.pipeline.Retry(ctx, clientID) })
	return err
}

// SelectCardOption responds to a single-choice card.
func (m *Manager) SelectCardOption(ctx context.Context, option entity.CardOption, cardMessageID string) error {
	var err error
	m.dispatchSync(func() { err = m.cards.Select(ctx, option, cardMessageID) })
	return err
}

// MarkRead clears the unread counter and removes the unread divider.
func (m *Manager) MarkRead() {
	m.dispatchSync(func() {
		if m.unread == 0 {
			return
		}
		m.unread = 0
		m.ledger.RemoveAll(transcript.PartitionLive, func(item entity.ChatItem) bool {
			return item.Kind == entity.KindUnreadDivider
		})
		m.notifyUnread()
	})
}

// NumPartitions, Count, and Item answer the host's table-view queries.
func (m *Manager) NumPartitions() int {
	return m.ledger.NumPartitions()
}

func (m *Manager) Count(p transcript.Partition) int {
	var n int
	m.dispatchSync(func() { n = m.ledger.Count(p) })
	return n
}

func (m *Manager) Item(p transcript.Partition, row int) (entity.ChatItem, bool) {
	var (
		item entity.ChatItem
		ok   bool
	)
	m.dispatchSync(func() { item, ok = m.ledger.Item(p, row) })
	return item, ok
}

// State returns the engagement lifecycle position.
func (m *Manager) State() state.State {
	var st state.State
	m.dispatchSync(func() { st = m.stateSync.Current() })
	return st
}

// MediaPolicy returns the attachment gating fetched for this engagement.
func (m *Manager) MediaPolicy() engagement.MediaPolicy {
	var p engagement.MediaPolicy
	m.dispatchSync(func() { p = m.stateSync.MediaPolicy() })
	return p
}

// RefreshHistory starts a fresh history load, superseding any in flight.
func (m *Manager) RefreshHistory(ctx context.Context) {
	m.Dispatch(func() { m.loadHistory(ctx) })
}

// --- Push stream consumption ---

func (m *Manager) consumeMessages(ctx context.Context) error {
	messages, err := m.bus.Subscribe(ctx, engagement.TopicMessage)
	if err != nil {
		return err
	}
	bulk, err := m.bus.Subscribe(ctx, engagement.TopicMessages)
	if err != nil {
		return err
	}
	typing, err := m.bus.Subscribe(ctx, engagement.TopicTyping)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var evt dto.MessageReceivedEvent
			if err := engagement.Decode(msg, &evt); err != nil {
				m.logger.Error("Session", "Bad message event", map[string]interface{}{"error": err.Error()})
				continue
			}
			m.Dispatch(func() { m.handlePush(evt.Message) })
		}
	}()

	go func() {
		for msg := range bulk {
			var evt dto.MessagesUpdatedEvent
			if err := engagement.Decode(msg, &evt); err != nil {
				m.logger.Error("Session", "Bad bulk update event", map[string]interface{}{"error": err.Error()})
				continue
			}
			m.Dispatch(func() { m.handleBulkUpdate(evt.Messages) })
		}
	}()

	go func() {
		for msg := range typing {
			var evt dto.TypingEvent
			if err := engagement.Decode(msg, &evt); err != nil {
				continue
			}
			m.Dispatch(func() {
				if m.delegate != nil {
					m.delegate.OperatorTyping(evt.Typing)
				}
			})
		}
	}()

	return nil
}

// handlePush resolves one push-delivered message against the identity
// tracker before it may touch the ledger.
func (m *Manager) handlePush(msg entity.Message) {
	if m.tracker.InHistory(msg.ID) {
		// Already rendered from history.
		return
	}
	if m.tracker.HasReceived(msg.ID) {
		// Already rendered via an earlier push or the REST ack.
		return
	}
	if m.ledger.ContainsID(transcript.PartitionPending, msg.ID) {
		// The pending-section accounting owns this id; the flush will
		// materialize it on the next engagement. If that engagement never
		// comes the message is dropped, so leave a trace.
		m.logger.Warn("Session", "Push matches a pending outbound id, deferring to flush", map[string]interface{}{"id": msg.ID})
		return
	}

	m.tracker.RegisterReceived(msg.ID)

	item := entity.NewItemFromMessage(msg)
	if item.IsCard() && item.Active {
		// A fresh card supersedes earlier unanswered ones.
		m.deactivateCards(msg.ID)
	}

	if msg.Sender != entity.ParticipantVisitor && m.cfg.TrackUnread {
		if m.unread == 0 {
			m.ledger.Append(entity.NewUnreadDividerItem(), transcript.PartitionLive)
		}
		m.unread++
		m.notifyUnread()
	}

	m.ledger.Append(item, transcript.PartitionLive)
	if m.delegate != nil {
		m.delegate.ScrollToBottom(true)
	}
}

// handleBulkUpdate replaces already-rendered messages in place, the
// server-side card invalidation path included.
func (m *Manager) handleBulkUpdate(msgs []entity.Message) {
	for _, msg := range msgs {
		if !m.ledger.Replace(msg.ID, entity.NewItemFromMessage(msg)) {
			m.logger.Debug("Session", "Bulk update for unknown id, ignoring", map[string]interface{}{"id": msg.ID})
		}
	}
}

// deactivateCards disables every active card except keepID.
func (m *Manager) deactivateCards(keepID string) {
	for _, p := range []transcript.Partition{transcript.PartitionHistory, transcript.PartitionLive} {
		for row := 0; row < m.ledger.Count(p); row++ {
			item, _ := m.ledger.Item(p, row)
			if item.IsCard() && item.Active && !entity.SameID(item.MessageID(), keepID) {
				item.Active = false
				m.ledger.ReplaceAt(p, row, item)
			}
		}
	}
}

// --- History ---

// loadHistory fetches all pages off-context, then applies the result as a
// bulk set. A newer load supersedes this one; staleness is checked by
// generation, never by mutating shared state from the fetch goroutine.
func (m *Manager) loadHistory(ctx context.Context) {
	m.historyGen++
	gen := m.historyGen
	pageSize := m.cfg.HistoryPageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	go func() {
		tr := otel.Tracer("session/Manager")
		ctx, span := tr.Start(ctx, "loadHistory", trace.WithAttributes(attribute.Int("page_size", pageSize)))
		defer span.End()

		var all []entity.Message
		for page := 1; ; page++ {
			msgs, err := m.provider.FetchHistory(ctx, page, pageSize)
			if err != nil {
				// Failure degrades to whatever was fetched so far; an empty
				// transcript beats a broken one.
				m.logger.Warn("Session", "History fetch failed", map[string]interface{}{"page": page, "error": err.Error()})
				break
			}
			all = append(all, msgs...)
			if len(msgs) < pageSize {
				break
			}
		}

		m.Dispatch(func() { m.applyHistory(gen, all) })
	}()
}

func (m *Manager) applyHistory(gen int, msgs []entity.Message) {
	if gen != m.historyGen {
		m.logger.Debug("Session", "Dropping superseded history load", map[string]interface{}{"gen": gen})
		return
	}

	items := make([]entity.ChatItem, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, entity.NewItemFromMessage(msg))
		ids = append(ids, msg.ID)
	}

	m.ledger.Set(items, transcript.PartitionHistory)
	m.tracker.AdoptHistory(ids)

	// History supremacy: drop live entries the fresh history now covers.
	m.ledger.RemoveAll(transcript.PartitionLive, func(item entity.ChatItem) bool {
		id := item.MessageID()
		return id != "" && m.tracker.InHistory(id)
	})

	m.logger.Info("Session", "History applied", map[string]interface{}{"count": len(items)})
}

// --- Delegate forwarding ---

func (m *Manager) notifyUnread() {
	if m.delegate != nil {
		m.delegate.UnreadCountChanged(m.unread)
	}
}

func (m *Manager) notifyEnded() {
	if m.delegate != nil {
		m.delegate.SessionEnded()
	}
}

func (m *Manager) notifyAuthFailure(err error) {
	if m.delegate != nil {
		m.delegate.AuthFailure(err)
	}
}

// composerGate adapts the delegate to the synchronizer's narrow interface.
type composerGate struct{ m *Manager }

func (g composerGate) SetComposerEnabled(enabled bool) {
	if g.m.delegate != nil {
		g.m.delegate.SetComposerEnabled(enabled)
	}
}

// cardGate does the same for the card controller.
type cardGate struct{ m *Manager }

func (g cardGate) SetCardsInteractive(enabled bool) {
	if g.m.delegate != nil {
		g.m.delegate.SetCardsInteractive(enabled)
	}
}
