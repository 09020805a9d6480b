// Simulation harness: drives a full engagement session (queue -> engage ->
// messages -> card -> transfer -> end) against an in-process fake backend
// and prints the transcript as it evolves.
package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"engagement-chat-sdk/internal/bootstrap"
	"engagement-chat-sdk/internal/config"
	"engagement-chat-sdk/internal/dto"
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/tracer"
	"engagement-chat-sdk/pkg/chat/transcript"
	"engagement-chat-sdk/pkg/engagement"

	"github.com/fatih/color"
)

// fakeProvider acks everything it is given after a little fake latency.
type fakeProvider struct {
	seq atomic.Int64
}

func (f *fakeProvider) FetchHistory(ctx context.Context, page, pageSize int) ([]entity.Message, error) {
	if page > 1 {
		return nil, nil
	}
	return []entity.Message{
		{ID: "hist-1", Content: "Hi, I need help with my order", Sender: entity.ParticipantVisitor, CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "hist-2", Content: "Of course, let me check", Sender: entity.ParticipantOperator, CreatedAt: time.Now().Add(-time.Hour)},
	}, nil
}

func (f *fakeProvider) Submit(ctx context.Context, out entity.OutgoingMessage) (entity.Message, error) {
	time.Sleep(50 * time.Millisecond) // pretend latency
	return entity.Message{
		ID:        out.ID.String(),
		Content:   out.Content,
		Sender:    entity.ParticipantVisitor,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeProvider) SubmitCardResponse(ctx context.Context, cardMessageID, option string) (entity.Message, error) {
	time.Sleep(50 * time.Millisecond)
	return entity.Message{
		ID:        fmt.Sprintf("card-resp-%d", f.seq.Add(1)),
		Content:   option,
		Sender:    entity.ParticipantVisitor,
		CreatedAt: time.Now(),
	}, nil
}

// printDelegate renders engine callbacks to the terminal.
type printDelegate struct{}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	red    = color.New(color.FgRed)
)

func (printDelegate) RowsAppended(p transcript.Partition, from, count int) {
	green.Printf("  + %d row(s) in %s at %d\n", count, p, from)
}
func (printDelegate) RowsReplaced(p transcript.Partition, rows []int) {
	yellow.Printf("  ~ rows %v replaced in %s\n", rows, p)
}
func (printDelegate) RowsRemoved(p transcript.Partition, rows []int) {
	yellow.Printf("  - rows %v removed from %s\n", rows, p)
}
func (printDelegate) PartitionRefreshed(p transcript.Partition) {
	cyan.Printf("  * %s refreshed\n", p)
}
func (printDelegate) ScrollToBottom(animated bool)      {}
func (printDelegate) SetComposerEnabled(enabled bool)   { cyan.Printf("  composer enabled=%v\n", enabled) }
func (printDelegate) SetCardsInteractive(enabled bool)  { cyan.Printf("  cards enabled=%v\n", enabled) }
func (printDelegate) UnreadCountChanged(count int)      { cyan.Printf("  unread=%d\n", count) }
func (printDelegate) OperatorTyping(typing bool)        {}
func (printDelegate) SessionEnded()                     { red.Println("  session ended") }
func (printDelegate) AuthFailure(err error)             { red.Printf("  auth failure: %v\n", err) }

func main() {
	fmt.Println("=== Engagement Session Simulation ===")

	cfg := config.Load()
	cfg.App.NatsURL = "" // in-process bus only; no real backend here
	cfg.Engagement = config.EngagementConfig{
		Variant:         config.VariantFull,
		HistoryPageSize: 100,
		TrackUnread:     true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(ctx)

	provider := &fakeProvider{}
	container := bootstrap.NewContainer(cfg, provider, printDelegate{})
	bus := container.Bus
	mgr := container.Session

	if err := container.Start(ctx, "simulate"); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}
	time.Sleep(200 * time.Millisecond) // let history land

	step := func(title string) {
		fmt.Printf("\n-- %s --\n", title)
		time.Sleep(150 * time.Millisecond)
	}

	step("visitor queues up")
	_ = bus.Publish(engagement.TopicState, dto.StateChangedEvent{State: "enqueueing"})
	_ = bus.Publish(engagement.TopicState, dto.StateChangedEvent{State: "enqueued"})

	step("message composed while waiting (goes to pending)")
	if _, err := mgr.Send(ctx, dto.SendMessageRequest{Content: "Are you there?"}); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}

	step("operator connects (pending flushes)")
	_ = bus.Publish(engagement.TopicState, dto.StateChangedEvent{
		State:    "engaged",
		Operator: &entity.Operator{ID: "op-1", Name: "Sam"},
	})

	step("operator pushes a card")
	_ = bus.Publish(engagement.TopicMessage, dto.MessageReceivedEvent{Message: entity.Message{
		ID:      "card-1",
		Content: "Which department?",
		Sender:  entity.ParticipantOperator,
		Card: &entity.Card{
			Text: "Which department?",
			Options: []entity.CardOption{
				{Text: "Billing", Value: "billing"},
				{Text: "Shipping", Value: "shipping"},
			},
		},
	}})

	step("visitor answers the card")
	if err := mgr.SelectCardOption(ctx, entity.CardOption{Text: "Billing", Value: "billing"}, "card-1"); err != nil {
		fmt.Printf("select failed: %v\n", err)
	}
	time.Sleep(200 * time.Millisecond)

	step("engagement is transferred")
	_ = bus.Publish(engagement.TopicTransfer, dto.TransferEvent{Phase: "transferring"})
	_ = bus.Publish(engagement.TopicTransfer, dto.TransferEvent{
		Phase:    "transferred",
		Operator: &entity.Operator{ID: "op-2", Name: "Alex"},
	})

	step("engagement ends")
	_ = bus.Publish(engagement.TopicState, dto.StateChangedEvent{State: "ended"})

	time.Sleep(300 * time.Millisecond)

	fmt.Println("\n=== Final transcript ===")
	for p := transcript.PartitionHistory; p <= transcript.PartitionLive; p++ {
		for row := 0; row < mgr.Count(p); row++ {
			item, _ := mgr.Item(p, row)
			line := fmt.Sprintf("[%s] %s", p, item.Kind)
			if item.Message != nil {
				line += ": " + item.Message.Content
			}
			if item.SelectedOption != "" {
				line += " (selected: " + item.SelectedOption + ")"
			}
			fmt.Println(line)
		}
	}

	container.Close()
}
