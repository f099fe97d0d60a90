package conversation

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleTree(t *testing.T) (*ForkEngine, ID) {
	t.Helper()
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	_, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)
	return e, conv
}

func TestTransactFailureLeavesTreeUntouched(t *testing.T) {
	e, _ := buildSampleTree(t)
	tree := e.Tree()
	before := tree.Snapshot()
	revision := tree.Revision()

	err := tree.transact(func(tx *Tree) error {
		msg := NewMessage(tx.ID(), RoleUser, "half done")
		if err := tx.insertMessage(msg, NullID); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, before, tree.Snapshot())
	assert.Equal(t, revision, tree.Revision())
}

func TestSnapshotRoundTrip(t *testing.T) {
	e, _ := buildSampleTree(t)
	original := e.Tree()

	reloaded, err := LoadTree(original.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, messageIDs(original.Messages()), messageIDs(reloaded.Messages()))
	for _, m := range original.Messages() {
		got, err := reloaded.Message(m.ID)
		require.NoError(t, err)
		assert.Equal(t, m.ParentID, got.ParentID)
		assert.Equal(t, m.Content, got.Content)
		assert.Equal(t, m.Children, got.Children)
		assert.Equal(t, m.BranchID, got.BranchID)
	}
	assert.Equal(t, original.Branches(), reloaded.Branches())
	assert.Equal(t, original.ActivePath().IDs(), reloaded.ActivePath().IDs())
	assert.False(t, reloaded.HasChanges())
}

func TestDeltaAndMarkCommitted(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	tree := e.Tree()

	delta := tree.Delta()
	require.NotNil(t, delta.Conversation)
	assert.Equal(t, uint64(0), delta.Conversation.Version)
	assert.Equal(t, []ID{u1.ID, a1.ID}, messageIDs(delta.SavedMessages))
	require.Len(t, delta.SavedBranches, 1)
	assert.Empty(t, delta.DeletedMessages)

	tree.MarkCommitted()
	assert.False(t, tree.HasChanges())
	assert.True(t, tree.Delta().IsEmpty())
	got, err := tree.Message(u1.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, uint64(1), tree.Conversation().Version)

	regen, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)
	delta = tree.Delta()
	assert.Equal(t, []ID{regen.ID}, messageIDs(delta.SavedMessages))
	// the new branch plus main, which lost its active flag
	assert.Len(t, delta.SavedBranches, 2)
	for _, b := range delta.SavedBranches {
		if b.ID == u1.BranchID {
			assert.False(t, b.IsActive)
			assert.Equal(t, uint64(1), b.Version)
		}
	}
	assert.Equal(t, uint64(1), delta.Conversation.Version)
}

func TestStructureGroupsMessagesByBranch(t *testing.T) {
	e, _ := buildSampleTree(t)
	s := e.Tree().Structure()

	assert.Equal(t, "test", s.Title)
	assert.Len(t, s.Messages, 4)
	require.Len(t, s.Branches, 2)
	assert.Len(t, s.Branches[0].Messages, 3)
	assert.Len(t, s.Branches[1].Messages, 1)
	assert.Equal(t, s.Branches[0].ID, s.Branches[1].ParentID)
	assert.True(t, s.Branches[1].IsActive)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentId":null`)
}

func TestThreadHelpers(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	_, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)

	thread, err := e.Tree().Thread(u2.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2.ID}, thread.IDs())
	assert.Equal(t, u2.ID, thread.Last().ID)

	left, err := e.Tree().LeftMostThread(u1.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2.ID}, left.IDs())

	_, err = e.Tree().Thread(NewID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndLoadFile(t *testing.T) {
	e, _ := buildSampleTree(t)
	path := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, e.Tree().SaveToFile(path))

	loaded, err := LoadTreeFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, messageIDs(e.Tree().Messages()), messageIDs(loaded.Messages()))
	assert.Equal(t, e.Tree().ActivePath().IDs(), loaded.ActivePath().IDs())
}

func TestLoadTreeRejectsForeignBranch(t *testing.T) {
	e, _ := buildSampleTree(t)
	snapshot := e.Tree().Snapshot()
	snapshot.Branches[0].ConversationID = NewID()

	_, err := LoadTree(snapshot)
	require.ErrorIs(t, err, ErrInvalidOperation)
}
