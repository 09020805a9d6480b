package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/pkg/chat/identity"
	"engagement-chat-sdk/pkg/chat/transcript"
	"engagement-chat-sdk/pkg/engagement"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLoop stands in for the session dispatch goroutine.
type testLoop struct {
	ch     chan func()
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newTestLoop() *testLoop {
	l := &testLoop{ch: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for fn := range l.ch {
			fn()
		}
	}()
	return l
}

func (l *testLoop) dispatch(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.ch <- fn
	return true
}

// run executes fn on the loop and waits for it, so tests can read state that
// is otherwise confined to the dispatch goroutine.
func (l *testLoop) run(fn func()) {
	d := make(chan struct{})
	if !l.dispatch(func() { fn(); close(d) }) {
		return
	}
	<-d
}

func (l *testLoop) stop() {
	l.mu.Lock()
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	<-l.done
}

type stubProvider struct {
	mu     sync.Mutex
	submit func(out entity.OutgoingMessage) (entity.Message, error)
}

func (s *stubProvider) setSubmit(fn func(out entity.OutgoingMessage) (entity.Message, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submit = fn
}

func (s *stubProvider) FetchHistory(ctx context.Context, page, pageSize int) ([]entity.Message, error) {
	return nil, nil
}

func (s *stubProvider) Submit(ctx context.Context, out entity.OutgoingMessage) (entity.Message, error) {
	s.mu.Lock()
	fn := s.submit
	s.mu.Unlock()
	return fn(out)
}

func (s *stubProvider) SubmitCardResponse(ctx context.Context, cardMessageID, option string) (entity.Message, error) {
	return s.Submit(ctx, entity.OutgoingMessage{Content: option})
}

func echoAck(out entity.OutgoingMessage) (entity.Message, error) {
	return entity.Message{ID: "srv-" + out.ID.String(), Content: out.Content, Sender: entity.ParticipantVisitor}, nil
}

type toggleGate struct{ on bool }

func (g *toggleGate) Connected() bool { return g.on }

type harness struct {
	loop     *testLoop
	ledger   *transcript.Ledger
	tracker  *identity.Tracker
	provider *stubProvider
	gate     *toggleGate
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:     newTestLoop(),
		ledger:   transcript.NewLedger(nil),
		tracker:  identity.NewTracker(),
		provider: &stubProvider{submit: echoAck},
		gate:     &toggleGate{on: true},
	}
	h.pipeline = NewPipeline(h.ledger, h.tracker, h.provider, h.loop.dispatch, nil)
	h.pipeline.SetGate(h.gate)
	t.Cleanup(h.loop.stop)
	return h
}

// liveContents snapshots the live partition from the dispatch goroutine.
func (h *harness) liveContents() []entity.ChatItem {
	var items []entity.ChatItem
	h.loop.run(func() { items = h.ledger.Items(transcript.PartitionLive) })
	return items
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t)

	var err error
	h.loop.run(func() {
		_, err = h.pipeline.Submit(context.Background(), dto.SendMessageRequest{})
	})

	require.Error(t, err)
	assert.Equal(t, 0, h.ledger.Count(transcript.PartitionLive))
}

func TestSubmitConnectedDelivers(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		<-release
		return echoAck(out)
	})

	var out entity.OutgoingMessage
	h.loop.run(func() {
		var err error
		out, err = h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "hello"})
		require.NoError(t, err)
	})

	// Optimistic entry appears before the ack resolves.
	items := h.liveContents()
	require.Len(t, items, 1)
	assert.Equal(t, entity.KindOutgoingMessage, items[0].Kind)
	close(release)

	require.Eventually(t, func() bool {
		items := h.liveContents()
		return len(items) == 1 && items[0].Kind == entity.KindVisitorMessage
	}, time.Second, 5*time.Millisecond)

	items = h.liveContents()
	assert.Equal(t, "srv-"+out.ID.String(), items[0].MessageID())
	assert.True(t, h.tracker.HasReceived("srv-"+out.ID.String()))
}

func TestAckAfterPushLeavesSingleEntry(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		<-release
		return echoAck(out)
	})

	var out entity.OutgoingMessage
	h.loop.run(func() {
		out, _ = h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "hi"})
	})
	serverID := "srv-" + out.ID.String()

	// Push delivery of the same message lands before the REST ack: the
	// session registers the server id and renders it.
	h.loop.run(func() {
		h.tracker.RegisterReceived(serverID)
		h.ledger.Append(entity.NewVisitorItem(entity.Message{ID: serverID, Content: "hi", Sender: entity.ParticipantVisitor}), transcript.PartitionLive)
	})
	close(release)

	require.Eventually(t, func() bool {
		items := h.liveContents()
		if len(items) != 1 {
			return false
		}
		return items[0].Kind == entity.KindVisitorMessage && items[0].MessageID() == serverID
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitDisconnectedQueues(t *testing.T) {
	h := newHarness(t)
	h.gate.on = false

	h.loop.run(func() {
		_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "park me"})
		require.NoError(t, err)
	})

	h.loop.run(func() {
		assert.Equal(t, 1, h.pipeline.PendingCount())
		assert.Equal(t, 1, h.ledger.Count(transcript.PartitionPending))
		assert.Equal(t, 0, h.ledger.Count(transcript.PartitionLive))
	})
}

func TestFlushPendingPreservesComposeOrder(t *testing.T) {
	h := newHarness(t)
	h.gate.on = false

	// Earlier messages take longer on the wire; order must still hold.
	delays := map[string]time.Duration{"A": 30 * time.Millisecond, "B": 10 * time.Millisecond, "C": 0}
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		time.Sleep(delays[out.Content])
		return echoAck(out)
	})

	h.loop.run(func() {
		for _, content := range []string{"A", "B", "C"} {
			_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: content})
			require.NoError(t, err)
		}
	})

	h.loop.run(func() {
		h.gate.on = true
		h.pipeline.FlushPending(context.Background())
	})

	require.Eventually(t, func() bool {
		return len(h.liveContents()) == 3
	}, time.Second, 5*time.Millisecond)

	items := h.liveContents()
	var contents []string
	for _, item := range items {
		require.Equal(t, entity.KindVisitorMessage, item.Kind)
		contents = append(contents, item.Message.Content)
	}
	assert.Equal(t, []string{"A", "B", "C"}, contents)

	h.loop.run(func() {
		assert.Equal(t, 0, h.ledger.Count(transcript.PartitionPending))
		assert.Equal(t, 0, h.pipeline.PendingCount())
	})
}

func TestFlushPicksUpMessagesPendedMidFlush(t *testing.T) {
	h := newHarness(t)
	h.gate.on = false

	release := make(chan struct{})
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		if out.Content == "A" {
			<-release
		}
		return echoAck(out)
	})

	h.loop.run(func() {
		_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "A"})
		require.NoError(t, err)
		h.gate.on = true
		h.pipeline.FlushPending(context.Background())
	})

	// The engagement bounces while A is still on the wire: a new message is
	// parked, then the connection comes back.
	h.loop.run(func() {
		h.gate.on = false
		_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "B"})
		require.NoError(t, err)
		h.gate.on = true
	})
	close(release)

	// Both drain without waiting for another engagement.
	require.Eventually(t, func() bool {
		var contents []string
		for _, item := range h.liveContents() {
			if item.Kind == entity.KindVisitorMessage {
				contents = append(contents, item.Message.Content)
			}
		}
		return len(contents) == 2 && contents[0] == "A" && contents[1] == "B"
	}, time.Second, 5*time.Millisecond)

	h.loop.run(func() {
		assert.Equal(t, 0, h.pipeline.PendingCount())
		assert.Equal(t, 0, h.ledger.Count(transcript.PartitionPending))
	})
}

func TestFlushPendingFailureStaysInPlace(t *testing.T) {
	h := newHarness(t)
	h.gate.on = false
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		if out.Content == "B" {
			return entity.Message{}, errors.New("boom")
		}
		return echoAck(out)
	})

	h.loop.run(func() {
		for _, content := range []string{"A", "B", "C"} {
			_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: content})
			require.NoError(t, err)
		}
		h.gate.on = true
		h.pipeline.FlushPending(context.Background())
	})

	require.Eventually(t, func() bool {
		return len(h.liveContents()) == 3
	}, time.Second, 5*time.Millisecond)

	items := h.liveContents()
	assert.Equal(t, entity.KindVisitorMessage, items[0].Kind)
	assert.Equal(t, entity.KindOutgoingMessage, items[1].Kind)
	assert.True(t, items[1].Failed)
	assert.Equal(t, "B", items[1].Outgoing.Content)
	assert.Equal(t, entity.KindVisitorMessage, items[2].Kind)
}

func TestRetryCoalescesConcurrentAttempts(t *testing.T) {
	h := newHarness(t)
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		return entity.Message{}, errors.New("network down")
	})

	var out entity.OutgoingMessage
	h.loop.run(func() {
		out, _ = h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "retry me"})
	})

	require.Eventually(t, func() bool {
		items := h.liveContents()
		return len(items) == 1 && items[0].Failed
	}, time.Second, 5*time.Millisecond)

	release := make(chan struct{})
	h.provider.setSubmit(func(o entity.OutgoingMessage) (entity.Message, error) {
		<-release
		return echoAck(o)
	})

	h.loop.run(func() {
		require.NoError(t, h.pipeline.Retry(context.Background(), out.ID.String()))
		// The first retry is still in flight.
		assert.ErrorIs(t, h.pipeline.Retry(context.Background(), out.ID.String()), ErrRetryInFlight)
	})
	close(release)

	require.Eventually(t, func() bool {
		items := h.liveContents()
		return len(items) == 1 && items[0].Kind == entity.KindVisitorMessage
	}, time.Second, 5*time.Millisecond)
}

func TestRetryUnknownID(t *testing.T) {
	h := newHarness(t)
	h.loop.run(func() {
		assert.ErrorIs(t, h.pipeline.Retry(context.Background(), "nope"), ErrUnknownMessage)
	})
}

func TestAuthFailureSurfacesToHost(t *testing.T) {
	h := newHarness(t)
	h.provider.setSubmit(func(out entity.OutgoingMessage) (entity.Message, error) {
		return entity.Message{}, &engagement.AuthError{Reason: "token expired"}
	})

	got := make(chan error, 1)
	h.pipeline.OnAuthFailure = func(err error) { got <- err }

	h.loop.run(func() {
		_, err := h.pipeline.Submit(context.Background(), dto.SendMessageRequest{Content: "x"})
		require.NoError(t, err)
	})

	select {
	case err := <-got:
		assert.True(t, engagement.IsAuthError(err))
	case <-time.After(time.Second):
		t.Fatal("auth failure never surfaced")
	}
}
