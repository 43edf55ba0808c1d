package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgTo(to string) Message {
	return Message{ID: "m-" + to, From: "sender", To: to, Kind: MsgAlert}
}

func TestQueue_DrainMatchesAddresseeAndBroadcast(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msgTo("dev-a"))
	q.Enqueue(msgTo("dev-b"))
	q.Enqueue(msgTo(Broadcast))
	q.Enqueue(msgTo("dev-a"))

	delivered := q.Drain("dev-a")
	require.Len(t, delivered, 3)
	for _, m := range delivered {
		assert.Contains(t, []string{"dev-a", Broadcast}, m.To)
	}

	// Messages for other devices are untouched.
	assert.Equal(t, 1, q.Len())
	left := q.Drain("dev-b")
	require.Len(t, left, 1)
	assert.Equal(t, "dev-b", left[0].To)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_BroadcastFirstPollerWins(t *testing.T) {
	q := NewQueue()
	q.Enqueue(msgTo(Broadcast))

	first := q.Drain("dev-a")
	require.Len(t, first, 1)

	// The broadcast is gone for every later poller.
	assert.Empty(t, q.Drain("dev-b"))
	assert.Empty(t, q.Drain("dev-a"))
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := NewQueue()
	assert.Empty(t, q.Drain("dev-a"))
	assert.Equal(t, 0, q.Len())
}
