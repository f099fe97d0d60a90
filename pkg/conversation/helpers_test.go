package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// sequentialIDs mints ids whose byte order matches creation order.
func sequentialIDs() IDGenerator {
	n := 0
	return func() ID {
		n++
		return MustParseID(fmt.Sprintf("00000000-0000-4000-8000-%012d", n))
	}
}

func steppingClock() func() time.Time {
	cur := epoch
	return func() time.Time {
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

func fixedClock() func() time.Time {
	return func() time.Time { return epoch }
}

func newTestEngine(t *testing.T, clock func() time.Time) (*ForkEngine, ID) {
	t.Helper()
	c := &Conversation{
		ID:        MustParseID("11111111-1111-4111-8111-111111111111"),
		Title:     "test",
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
	return NewForkEngine(NewTree(c), WithClock(clock), WithIDGenerator(sequentialIDs())), c.ID
}

func mustAdd(t *testing.T, e *ForkEngine, convID, parentID ID, role Role, content string) *Message {
	t.Helper()
	m, err := e.AddMessage(convID, parentID, role, content)
	require.NoError(t, err)
	return m
}

func messageIDs(msgs []*Message) []ID {
	return Thread(msgs).IDs()
}
