// Package transcript holds the ordered transcript ledger: the single source
// of truth for what the conversation view renders.
package transcript

import (
	"engagement-chat-sdk/internal/entity"
	"engagement-chat-sdk/internal/pkg/logger"
)

// Partition is one of the four fixed buckets making up the transcript, in
// render order. Entries never move between partitions; they are replaced in
// place or removed.
type Partition int

const (
	PartitionHistory Partition = iota
	PartitionPending
	PartitionQueueStatus
	PartitionLive

	numPartitions
)

func (p Partition) String() string {
	switch p {
	case PartitionHistory:
		return "history"
	case PartitionPending:
		return "pending"
	case PartitionQueueStatus:
		return "queue_status"
	case PartitionLive:
		return "live"
	}
	return "unknown"
}

// Delegate receives incremental change notifications. Row indices are valid
// at notification time; a bulk Set emits only PartitionRefreshed.
// Implementations are typically the host UI's list adapter.
type Delegate interface {
	RowsAppended(p Partition, from, count int)
	RowsReplaced(p Partition, rows []int)
	RowsRemoved(p Partition, rows []int)
	PartitionRefreshed(p Partition)
}

// Ledger is the ordered, partitioned transcript. It is NOT safe for
// concurrent use: all access must stay on the session dispatch goroutine.
type Ledger struct {
	partitions [numPartitions][]entity.ChatItem
	delegate   Delegate
	logger     logger.ILogger
}

func NewLedger(log logger.ILogger) *Ledger {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Ledger{logger: log}
}

// SetDelegate installs the change listener. A nil delegate silences
// notifications.
func (l *Ledger) SetDelegate(d Delegate) {
	l.delegate = d
}

func (l *Ledger) NumPartitions() int {
	return int(numPartitions)
}

func (l *Ledger) Count(p Partition) int {
	return len(l.partitions[p])
}

// Item returns the entry at row in p.
func (l *Ledger) Item(p Partition, row int) (entity.ChatItem, bool) {
	if row < 0 || row >= len(l.partitions[p]) {
		return entity.ChatItem{}, false
	}
	return l.partitions[p][row], true
}

// Items returns a copy of p's entries.
func (l *Ledger) Items(p Partition) []entity.ChatItem {
	out := make([]entity.ChatItem, len(l.partitions[p]))
	copy(out, l.partitions[p])
	return out
}

// Append adds item at the end of p.
func (l *Ledger) Append(item entity.ChatItem, p Partition) {
	l.partitions[p] = append(l.partitions[p], item)
	if l.delegate != nil {
		l.delegate.RowsAppended(p, len(l.partitions[p])-1, 1)
	}
}

// Set bulk-replaces p's entries. Used for history loads and full refreshes;
// emits a single PartitionRefreshed instead of incremental diffs.
func (l *Ledger) Set(items []entity.ChatItem, p Partition) {
	l.partitions[p] = items
	if l.delegate != nil {
		l.delegate.PartitionRefreshed(p)
	}
}

// Find locates the first entry answering to messageID, scanning partitions
// in render order. Comparison is case-insensitive.
func (l *Ledger) Find(messageID string) (Partition, int, bool) {
	for p := Partition(0); p < numPartitions; p++ {
		for row, item := range l.partitions[p] {
			if entity.SameID(item.MessageID(), messageID) {
				return p, row, true
			}
		}
	}
	return 0, 0, false
}

// Replace swaps the entry answering to messageID with item, preserving its
// position. Linear scan; partitions are bounded by visible transcript length.
func (l *Ledger) Replace(messageID string, item entity.ChatItem) bool {
	p, row, ok := l.Find(messageID)
	if !ok {
		return false
	}
	l.ReplaceAt(p, row, item)
	return true
}

// ReplaceAt swaps the entry at a known position.
func (l *Ledger) ReplaceAt(p Partition, row int, item entity.ChatItem) {
	if row < 0 || row >= len(l.partitions[p]) {
		l.logger.Warn("Ledger", "ReplaceAt out of range", map[string]interface{}{"partition": p.String(), "row": row})
		return
	}
	l.partitions[p][row] = item
	if l.delegate != nil {
		l.delegate.RowsReplaced(p, []int{row})
	}
}

// RemoveAll deletes every entry of p matching pred, keeping the relative
// order of survivors. Returns the number removed.
func (l *Ledger) RemoveAll(p Partition, pred func(entity.ChatItem) bool) int {
	var removed []int
	kept := l.partitions[p][:0]
	for row, item := range l.partitions[p] {
		if pred(item) {
			removed = append(removed, row)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		return 0
	}
	l.partitions[p] = kept
	if l.delegate != nil {
		l.delegate.RowsRemoved(p, removed)
	}
	return len(removed)
}

// RemoveID deletes the single entry answering to messageID in p.
func (l *Ledger) RemoveID(p Partition, messageID string) bool {
	found := false
	l.RemoveAll(p, func(item entity.ChatItem) bool {
		if !found && entity.SameID(item.MessageID(), messageID) {
			found = true
			return true
		}
		return false
	})
	return found
}

// ContainsID reports whether p holds an entry answering to messageID.
func (l *Ledger) ContainsID(p Partition, messageID string) bool {
	for _, item := range l.partitions[p] {
		if entity.SameID(item.MessageID(), messageID) {
			return true
		}
	}
	return false
}
