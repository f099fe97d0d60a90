package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBranch(id, convID ID, active bool, at time.Time) *Branch {
	return &Branch{ID: id, ConversationID: convID, Name: "b", IsActive: active, CreatedAt: at}
}

func TestBranchRegistryActivateKeepsSingleActive(t *testing.T) {
	gen := sequentialIDs()
	conv := gen()
	r := NewBranchRegistry()
	a := testBranch(gen(), conv, true, epoch)
	b := testBranch(gen(), conv, false, epoch.Add(time.Second))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	require.NoError(t, r.Activate(conv, b.ID))

	active, ok := r.Active(conv)
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)

	count := 0
	for _, br := range r.BranchesOf(conv) {
		if br.IsActive {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBranchRegistryRegisterActiveDeactivatesOthers(t *testing.T) {
	gen := sequentialIDs()
	conv := gen()
	r := NewBranchRegistry()
	a := testBranch(gen(), conv, true, epoch)
	b := testBranch(gen(), conv, true, epoch.Add(time.Second))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestBranchRegistryActivateOtherConversation(t *testing.T) {
	gen := sequentialIDs()
	conv, other := gen(), gen()
	r := NewBranchRegistry()
	a := testBranch(gen(), conv, true, epoch)
	foreign := testBranch(gen(), other, false, epoch)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(foreign))

	err := r.Activate(conv, foreign.ID)
	require.ErrorIs(t, err, ErrInvalidOperation)

	active, ok := r.Active(conv)
	require.True(t, ok)
	assert.Equal(t, a.ID, active.ID)
	_, ok = r.Active(other)
	assert.False(t, ok)
}

func TestBranchRegistryUnknownBranch(t *testing.T) {
	gen := sequentialIDs()
	r := NewBranchRegistry()

	require.ErrorIs(t, r.Activate(gen(), gen()), ErrNotFound)
	_, err := r.Get(gen())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, r.Remove(gen()), ErrNotFound)
	require.ErrorIs(t, r.Rename(gen(), "x"), ErrNotFound)
}

func TestBranchRegistryRegisterDuplicate(t *testing.T) {
	gen := sequentialIDs()
	conv := gen()
	r := NewBranchRegistry()
	a := testBranch(gen(), conv, false, epoch)
	require.NoError(t, r.Register(a))

	require.ErrorIs(t, r.Register(a.Clone()), ErrInvalidOperation)
}

func TestBranchRegistryBranchesOfOrderedByCreation(t *testing.T) {
	gen := sequentialIDs()
	conv, other := gen(), gen()
	r := NewBranchRegistry()
	late := testBranch(gen(), conv, false, epoch.Add(2*time.Second))
	early := testBranch(gen(), conv, false, epoch.Add(time.Second))
	foreign := testBranch(gen(), other, false, epoch)
	for _, b := range []*Branch{late, early, foreign} {
		require.NoError(t, r.Register(b))
	}

	got := r.BranchesOf(conv)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestLoadBranchRegistryRepairsDoubleActive(t *testing.T) {
	gen := sequentialIDs()
	conv := gen()
	older := testBranch(gen(), conv, true, epoch)
	newer := testBranch(gen(), conv, true, epoch.Add(time.Second))

	r, err := LoadBranchRegistry([]*Branch{newer, older})
	require.NoError(t, err)

	active, ok := r.Active(conv)
	require.True(t, ok)
	assert.Equal(t, newer.ID, active.ID)
}

func TestBranchRegistryGetReturnsCopy(t *testing.T) {
	gen := sequentialIDs()
	conv := gen()
	r := NewBranchRegistry()
	a := testBranch(gen(), conv, false, epoch)
	require.NoError(t, r.Register(a))

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", again.Name)
}
