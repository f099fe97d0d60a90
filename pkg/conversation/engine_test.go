package conversation

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMessageCreatesMainBranch(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())

	m1 := mustAdd(t, e, conv, NullID, RoleUser, "Hi")
	m2 := mustAdd(t, e, conv, m1.ID, RoleAssistant, "Hello")

	branches := e.Tree().Branches()
	require.Len(t, branches, 1)
	main := branches[0]
	assert.Equal(t, "main", main.Name)
	assert.True(t, main.IsActive)
	assert.Equal(t, m1.ID, main.RootMessageID)
	assert.True(t, main.ParentBranchID.IsNull())

	assert.Equal(t, main.ID, m1.BranchID)
	assert.Equal(t, main.ID, m2.BranchID)
	assert.Equal(t, m1.ID, m2.ParentID)
	assert.Equal(t, []ID{m1.ID, m2.ID}, e.Tree().ActivePath().IDs())
	assert.Equal(t, []ID{m1.ID}, e.Tree().Conversation().RootMessageIDs)
}

func TestAddMessageErrors(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	m1 := mustAdd(t, e, conv, NullID, RoleUser, "Hi")
	before := e.Tree().Snapshot()

	_, err := e.AddMessage(conv, NewID(), RoleAssistant, "x")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.AddMessage(NewID(), m1.ID, RoleAssistant, "x")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.AddMessage(conv, m1.ID, RoleAssistant, "   ")
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = e.AddMessage(conv, m1.ID, Role{}, "x")
	require.ErrorIs(t, err, ErrInvalidOperation)

	assert.Equal(t, before, e.Tree().Snapshot())
}

// Editing the first message discards the whole conversation below it.
func TestEditRootMessageDiscardsSubtree(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	m1 := mustAdd(t, e, conv, NullID, RoleUser, "Hi")
	m2 := mustAdd(t, e, conv, m1.ID, RoleAssistant, "Hello")

	res, err := e.EditMessage(m1.ID, "Hi there")
	require.NoError(t, err)
	m3 := res.NewMessage

	tree := e.Tree()
	assert.Equal(t, []ID{m3.ID}, messageIDs(tree.Messages()))
	assert.True(t, m3.ParentID.IsNull())
	assert.True(t, m3.IsEdited)
	require.NotNil(t, m3.OriginalContent)
	assert.Equal(t, "Hi", *m3.OriginalContent)
	assert.Equal(t, "Hi there", m3.Content)
	assert.Equal(t, RoleUser, m3.Role)
	assert.Equal(t, []ID{m1.ID, m2.ID}, res.DiscardedIDs)

	_, err = tree.Message(m2.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = tree.Message(m1.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []ID{m3.ID}, tree.Conversation().RootMessageIDs)

	// main was rooted at m1, so only the edit branch is left
	branches := tree.Branches()
	require.Len(t, branches, 1)
	assert.Equal(t, m3.BranchID, branches[0].ID)
	assert.True(t, branches[0].IsActive)
	assert.True(t, branches[0].ParentBranchID.IsNull())
	assert.Equal(t, []ID{m3.ID}, tree.ActivePath().IDs())
	require.NoError(t, tree.Validate())
}

func TestEditMidConversationKeepsAncestors(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	a2 := mustAdd(t, e, conv, u2.ID, RoleAssistant, "a2")
	main := u1.BranchID

	res, err := e.EditMessage(u2.ID, "q2 again")
	require.NoError(t, err)
	assert.Equal(t, []ID{u2.ID, a2.ID}, res.DiscardedIDs)

	tree := e.Tree()
	assert.Equal(t, []ID{u1.ID, a1.ID, res.NewMessage.ID}, messageIDs(tree.Messages()))
	assert.Equal(t, a1.ID, res.NewMessage.ParentID)

	edit, err := tree.Branch(res.NewMessage.BranchID)
	require.NoError(t, err)
	assert.Equal(t, main, edit.ParentBranchID)
	assert.True(t, edit.IsActive)
	old, err := tree.Branch(main)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	assert.Equal(t, []ID{u1.ID, a1.ID, res.NewMessage.ID}, tree.ActivePath().IDs())
}

func TestEditTakesFormerSlot(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	root := mustAdd(t, e, conv, NullID, RoleAssistant, "welcome")
	first := mustAdd(t, e, conv, root.ID, RoleUser, "one")
	second := mustAdd(t, e, conv, root.ID, RoleUser, "two")
	third := mustAdd(t, e, conv, root.ID, RoleUser, "three")

	res, err := e.EditMessage(second.ID, "two, edited")
	require.NoError(t, err)

	raw := e.Tree().store.nodes[root.ID].Children
	assert.Equal(t, []ID{first.ID, res.NewMessage.ID, third.ID}, raw)

	children, err := e.Tree().ChildrenOf(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{first.ID, third.ID, res.NewMessage.ID}, messageIDs(children))
}

func TestEditDropsBranchesInsideDiscardedSubtree(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	regen, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)
	main := u1.BranchID
	require.Len(t, e.Tree().Branches(), 2)

	res, err := e.EditMessage(u1.ID, "q1'")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ID{u1.ID, a1.ID, regen.ID}, res.DiscardedIDs)

	tree := e.Tree()
	_, err = tree.Branch(regen.BranchID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = tree.Branch(main)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, tree.Branches(), 1)

	delta := tree.Delta()
	assert.ElementsMatch(t, []ID{main, regen.BranchID}, delta.DeletedBranches)
	assert.ElementsMatch(t, []ID{u1.ID, a1.ID, regen.ID}, delta.DeletedMessages)
}

func TestEditGuardRejectsAssistant(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	before := e.Tree().Snapshot()
	revision := e.Tree().Revision()

	_, err := e.EditMessage(a1.ID, "rewritten")
	require.ErrorIs(t, err, ErrInvalidOperation)

	var invalid *InvalidOperationError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "edit message", invalid.Op)

	assert.Equal(t, before, e.Tree().Snapshot())
	assert.Equal(t, revision, e.Tree().Revision())
}

// A failed edit leaves the tree exactly as it was.
func TestEditMissingMessage(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	before := e.Tree().Snapshot()
	delta := e.Tree().Delta()

	_, err := e.EditMessage(NewID(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, e.Tree().Snapshot())
	assert.Equal(t, delta, e.Tree().Delta())
}

func TestEditEmptyContent(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")

	_, err := e.EditMessage(u1.ID, "")
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRegenerateIsNonDestructive(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	before := messageIDs(e.Tree().Messages())

	regen, err := e.Regenerate(a1.ID, "a1 take two")
	require.NoError(t, err)

	tree := e.Tree()
	after := messageIDs(tree.Messages())
	assert.Equal(t, append(before, regen.ID), after)
	assert.Equal(t, u1.ID, regen.ParentID)
	assert.Equal(t, RoleAssistant, regen.Role)

	kept, err := tree.Message(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{u2.ID}, kept.Children)

	b, err := tree.Branch(regen.BranchID)
	require.NoError(t, err)
	assert.Equal(t, a1.BranchID, b.ParentBranchID)
	assert.Equal(t, regen.ID, b.RootMessageID)
	assert.True(t, b.IsActive)
	assert.Equal(t, []ID{u1.ID, regen.ID}, tree.ActivePath().IDs())
}

func TestRegenerateGuards(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	before := e.Tree().Snapshot()

	_, err := e.Regenerate(u1.ID, "x")
	require.ErrorIs(t, err, ErrInvalidOperation)
	_, err = e.Regenerate(NewID(), "x")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, e.Tree().Snapshot())
}

// Three regenerations give four versions in creation order.
func TestRegenerateVersionsInCreationOrder(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")

	expected := []ID{a1.ID}
	for _, text := range []string{"r1", "r2", "r3"} {
		m, err := e.Regenerate(a1.ID, text)
		require.NoError(t, err)
		expected = append(expected, m.ID)
	}

	versions, err := e.Tree().SiblingVersions(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, messageIDs(versions))

	nav := e.Tree().Navigator()
	last := expected[len(expected)-1]
	next, err := nav.Next(last)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Len(t, e.Tree().Branches(), 4)
}

func TestForkOpensEmptyBranch(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	mustAdd(t, e, conv, a1.ID, RoleUser, "q2")

	b, err := e.Fork(a1.ID, "side quest")
	require.NoError(t, err)
	assert.Equal(t, "side quest", b.Name)
	assert.Equal(t, a1.ID, b.RootMessageID)
	assert.Equal(t, a1.BranchID, b.ParentBranchID)

	tree := e.Tree()
	assert.Equal(t, []ID{u1.ID, a1.ID}, tree.ActivePath().IDs())

	alt := mustAdd(t, e, conv, a1.ID, RoleUser, "q2 alternative")
	assert.Equal(t, b.ID, alt.BranchID)
	assert.Equal(t, []ID{u1.ID, a1.ID, alt.ID}, e.Tree().ActivePath().IDs())

	_, err = e.Fork(NewID(), "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelectVersionSwitchesActivePath(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	regen, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)
	require.Equal(t, []ID{u1.ID, regen.ID}, e.Tree().ActivePath().IDs())

	b, err := e.SelectVersion(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.BranchID, b.ID)
	assert.True(t, b.IsActive)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2.ID}, e.Tree().ActivePath().IDs())

	_, err = e.SelectVersion(regen.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{u1.ID, regen.ID}, e.Tree().ActivePath().IDs())

	_, err = e.SelectVersion(NewID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelectVersionOnSameBranchShowsSelectedSibling(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	a2 := mustAdd(t, e, conv, u2.ID, RoleAssistant, "a2")
	u2b := mustAdd(t, e, conv, a1.ID, RoleUser, "q2 take two")
	require.Equal(t, u2.BranchID, u2b.BranchID)
	require.Equal(t, []ID{u1.ID, a1.ID, u2b.ID}, e.Tree().ActivePath().IDs())

	multiple, err := e.Tree().Navigator().HasMultipleVersions(u2.ID)
	require.NoError(t, err)
	assert.True(t, multiple)

	b, err := e.SelectVersion(u2.ID)
	require.NoError(t, err)
	assert.Equal(t, a2.ID, b.HeadMessageID)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2.ID, a2.ID}, e.Tree().ActivePath().IDs())

	_, err = e.SelectVersion(u2b.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2b.ID}, e.Tree().ActivePath().IDs())

	// the head survives a reload
	_, err = e.SelectVersion(u2.ID)
	require.NoError(t, err)
	reloaded, err := LoadTree(e.Tree().Snapshot())
	require.NoError(t, err)
	assert.Equal(t, []ID{u1.ID, a1.ID, u2.ID, a2.ID}, reloaded.ActivePath().IDs())
}

func TestEditMovesHeadsOffDiscardedMessages(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	u2 := mustAdd(t, e, conv, a1.ID, RoleUser, "q2")
	mustAdd(t, e, conv, u2.ID, RoleAssistant, "a2")

	res, err := e.EditMessage(u2.ID, "q2 again")
	require.NoError(t, err)

	main, err := e.Tree().Branch(u1.BranchID)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, main.HeadMessageID)
	edit, err := e.Tree().Branch(res.NewMessage.BranchID)
	require.NoError(t, err)
	assert.Equal(t, res.NewMessage.ID, edit.HeadMessageID)

	require.NoError(t, e.ActivateBranch(main.ID))
	assert.Equal(t, []ID{u1.ID, a1.ID}, e.Tree().ActivePath().IDs())
	require.NoError(t, e.Tree().Validate())
}

func TestActivateAndRenameBranch(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	_, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)

	require.NoError(t, e.ActivateBranch(u1.BranchID))
	active, ok := e.Tree().ActiveBranch()
	require.True(t, ok)
	assert.Equal(t, u1.BranchID, active.ID)

	require.NoError(t, e.RenameBranch(u1.BranchID, "trunk"))
	b, err := e.Tree().Branch(u1.BranchID)
	require.NoError(t, err)
	assert.Equal(t, "trunk", b.Name)

	require.ErrorIs(t, e.RenameBranch(u1.BranchID, ""), ErrInvalidOperation)
	require.ErrorIs(t, e.RenameBranch(NewID(), "x"), ErrNotFound)
	require.ErrorIs(t, e.ActivateBranch(NewID()), ErrNotFound)
}

func TestDeleteBranchCascades(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")

	regen, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)
	u2 := mustAdd(t, e, conv, regen.ID, RoleUser, "q2")
	require.Equal(t, regen.BranchID, u2.BranchID)

	discarded, err := e.DeleteBranch(regen.BranchID)
	require.NoError(t, err)
	assert.Equal(t, []ID{regen.ID, u2.ID}, discarded)

	tree := e.Tree()
	assert.Equal(t, []ID{u1.ID, a1.ID}, messageIDs(tree.Messages()))
	_, err = tree.Branch(regen.BranchID)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tree.Validate())

	delta := tree.Delta()
	assert.ElementsMatch(t, []ID{regen.ID, u2.ID}, delta.DeletedMessages)
	assert.Equal(t, []ID{regen.BranchID}, delta.DeletedBranches)
}

func TestDeleteBranchReparentsChildren(t *testing.T) {
	gen := sequentialIDs()
	conv := &Conversation{ID: gen(), Title: "handmade", CreatedAt: epoch, UpdatedAt: epoch, Version: 1}
	mainID, altID, sideID := gen(), gen(), gen()
	u1 := NewMessage(conv.ID, RoleUser, "q1", WithID(gen()), WithBranchID(mainID), WithTime(epoch))
	a1 := NewMessage(conv.ID, RoleAssistant, "a1", WithID(gen()), WithParentID(u1.ID), WithBranchID(mainID), WithTime(epoch.Add(time.Second)))
	a2 := NewMessage(conv.ID, RoleAssistant, "a2", WithID(gen()), WithParentID(u1.ID), WithBranchID(altID), WithTime(epoch.Add(2*time.Second)))
	snapshot := &Snapshot{
		Conversation: conv,
		Messages:     []*Message{u1, a1, a2},
		Branches: []*Branch{
			{ID: mainID, ConversationID: conv.ID, RootMessageID: u1.ID, Name: "main", CreatedAt: epoch},
			{ID: altID, ConversationID: conv.ID, RootMessageID: a2.ID, ParentBranchID: mainID, Name: "alt", CreatedAt: epoch.Add(2 * time.Second)},
			{ID: sideID, ConversationID: conv.ID, RootMessageID: a1.ID, ParentBranchID: altID, Name: "side", IsActive: true, CreatedAt: epoch.Add(3 * time.Second)},
		},
	}
	tree, err := LoadTree(snapshot)
	require.NoError(t, err)
	e := NewForkEngine(tree, WithClock(steppingClock()), WithIDGenerator(gen))

	discarded, err := e.DeleteBranch(altID)
	require.NoError(t, err)
	assert.Equal(t, []ID{a2.ID}, discarded)

	side, err := e.Tree().Branch(sideID)
	require.NoError(t, err)
	assert.Equal(t, mainID, side.ParentBranchID)
	assert.True(t, side.IsActive)
	assert.Equal(t, []ID{u1.ID, a1.ID}, e.Tree().ActivePath().IDs())

	saved := e.Tree().Delta().SavedBranches
	require.Len(t, saved, 1)
	assert.Equal(t, sideID, saved[0].ID)
}

func TestDeleteActiveBranchActivatesParent(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	regen, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)

	_, err = e.DeleteBranch(regen.BranchID)
	require.NoError(t, err)

	active, ok := e.Tree().ActiveBranch()
	require.True(t, ok)
	assert.Equal(t, u1.BranchID, active.ID)
	assert.Equal(t, []ID{u1.ID, a1.ID}, e.Tree().ActivePath().IDs())
}

func TestDeleteMainBranchEmptiesConversation(t *testing.T) {
	e, conv := newTestEngine(t, steppingClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")
	_, err := e.Regenerate(a1.ID, "a1'")
	require.NoError(t, err)

	discarded, err := e.DeleteBranch(u1.BranchID)
	require.NoError(t, err)
	assert.Len(t, discarded, 3)
	assert.Empty(t, e.Tree().Messages())
	assert.Empty(t, e.Tree().Branches())
	assert.Empty(t, e.Tree().ActivePath())

	_, err = e.DeleteBranch(u1.BranchID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFixedClockKeepsInsertionOrder(t *testing.T) {
	e, conv := newTestEngine(t, fixedClock())
	u1 := mustAdd(t, e, conv, NullID, RoleUser, "q1")
	a1 := mustAdd(t, e, conv, u1.ID, RoleAssistant, "a1")

	expected := []ID{a1.ID}
	for i := 0; i < 3; i++ {
		m, err := e.Regenerate(a1.ID, "again")
		require.NoError(t, err)
		expected = append(expected, m.ID)
	}

	versions, err := e.Tree().SiblingVersions(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, messageIDs(versions))

	// sequential ids sort the same way, so a reload keeps the order
	reloaded, err := LoadTree(e.Tree().Snapshot())
	require.NoError(t, err)
	versions, err = reloaded.SiblingVersions(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, messageIDs(versions))
}
