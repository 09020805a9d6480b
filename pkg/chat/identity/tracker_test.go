package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterReceived(t *testing.T) {
	tr := NewTracker()

	assert.False(t, tr.HasReceived("m1"))
	tr.RegisterReceived("m1")
	assert.True(t, tr.HasReceived("m1"))
	assert.False(t, tr.InHistory("m1"))
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	tr := NewTracker()
	tr.RegisterReceived("MSG-001")

	assert.True(t, tr.HasReceived("msg-001"))
	assert.True(t, tr.HasReceived("  MSG-001  "))
}

func TestAdoptHistoryMovesIDs(t *testing.T) {
	tr := NewTracker()
	tr.RegisterReceived("a")
	tr.RegisterReceived("b")

	tr.AdoptHistory([]string{"a", "c"})

	// Adopted ids answer only to InHistory from now on.
	assert.True(t, tr.InHistory("a"))
	assert.False(t, tr.HasReceived("a"))
	assert.True(t, tr.InHistory("c"))

	// Untouched received ids survive.
	assert.True(t, tr.HasReceived("b"))
	assert.False(t, tr.InHistory("b"))
}

func TestAdoptHistoryReplacesPreviousSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.AdoptHistory([]string{"a", "b"})
	tr.AdoptHistory([]string{"b", "c"})

	assert.False(t, tr.InHistory("a"))
	assert.True(t, tr.InHistory("b"))
	assert.True(t, tr.InHistory("c"))
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.RegisterReceived("a")
	tr.AdoptHistory([]string{"b"})

	tr.Reset()

	assert.False(t, tr.HasReceived("a"))
	assert.False(t, tr.InHistory("b"))
}
