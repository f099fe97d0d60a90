package conversation

import (
	"bytes"
	"sort"
)

// BranchRegistry keeps fork metadata and enforces that a conversation has at
// most one active branch.
type BranchRegistry struct {
	branches map[ID]*Branch
}

func NewBranchRegistry() *BranchRegistry {
	return &BranchRegistry{branches: make(map[ID]*Branch)}
}

// LoadBranchRegistry rebuilds a registry from persisted records. If the
// records claim more than one active branch for a conversation, only the
// newest one stays active.
func LoadBranchRegistry(branches []*Branch) (*BranchRegistry, error) {
	r := NewBranchRegistry()
	for _, b := range branches {
		if b == nil {
			continue
		}
		if err := r.checkRegistrable(b); err != nil {
			return nil, err
		}
		r.branches[b.ID] = b.Clone()
	}

	active := map[ID][]*Branch{}
	for _, b := range r.branches {
		if b.IsActive {
			active[b.ConversationID] = append(active[b.ConversationID], b)
		}
	}
	for _, list := range active {
		if len(list) < 2 {
			continue
		}
		sortBranches(list)
		for _, b := range list[:len(list)-1] {
			b.IsActive = false
		}
	}
	return r, nil
}

// Register adds a branch. An active branch deactivates the others of its
// conversation.
func (r *BranchRegistry) Register(b *Branch) error {
	if b == nil {
		return invalidOp("register branch", "branch is nil")
	}
	if err := r.checkRegistrable(b); err != nil {
		return err
	}
	r.branches[b.ID] = b
	if b.IsActive {
		r.deactivateOthers(b.ConversationID, b.ID)
	}
	return nil
}

func (r *BranchRegistry) checkRegistrable(b *Branch) error {
	if b.ID.IsNull() {
		return invalidOp("register branch", "branch id is null")
	}
	if _, exists := r.branches[b.ID]; exists {
		return invalidOp("register branch", "branch %s already exists", b.ID)
	}
	if b.ParentBranchID == b.ID {
		return invalidOp("register branch", "branch %s is its own parent", b.ID)
	}
	return nil
}

// Activate makes branchID the only active branch of conversationID.
func (r *BranchRegistry) Activate(conversationID, branchID ID) error {
	_, err := r.activate(conversationID, branchID)
	return err
}

// activate returns every branch whose IsActive flag changed.
func (r *BranchRegistry) activate(conversationID, branchID ID) ([]*Branch, error) {
	b, ok := r.branches[branchID]
	if !ok {
		return nil, notFound("branch", branchID)
	}
	if b.ConversationID != conversationID {
		return nil, invalidOp("activate branch", "branch %s belongs to conversation %s, not %s", branchID, b.ConversationID, conversationID)
	}
	changed := r.deactivateOthers(conversationID, branchID)
	if !b.IsActive {
		b.IsActive = true
		changed = append(changed, b)
	}
	return changed, nil
}

func (r *BranchRegistry) deactivateOthers(conversationID, keep ID) []*Branch {
	var changed []*Branch
	for _, other := range r.branches {
		if other.ConversationID == conversationID && other.ID != keep && other.IsActive {
			other.IsActive = false
			changed = append(changed, other)
		}
	}
	sortBranches(changed)
	return changed
}

// Get returns a copy of the branch.
func (r *BranchRegistry) Get(branchID ID) (*Branch, error) {
	b, ok := r.branches[branchID]
	if !ok {
		return nil, notFound("branch", branchID)
	}
	return b.Clone(), nil
}

// Active returns the active branch of a conversation, if any.
func (r *BranchRegistry) Active(conversationID ID) (*Branch, bool) {
	for _, b := range r.branches {
		if b.ConversationID == conversationID && b.IsActive {
			return b.Clone(), true
		}
	}
	return nil, false
}

// BranchesOf returns the branches of a conversation ordered by CreatedAt.
func (r *BranchRegistry) BranchesOf(conversationID ID) []*Branch {
	var list []*Branch
	for _, b := range r.branches {
		if b.ConversationID == conversationID {
			list = append(list, b)
		}
	}
	sortBranches(list)
	ret := make([]*Branch, 0, len(list))
	for _, b := range list {
		ret = append(ret, b.Clone())
	}
	return ret
}

func (r *BranchRegistry) Rename(branchID ID, name string) error {
	b, ok := r.branches[branchID]
	if !ok {
		return notFound("branch", branchID)
	}
	b.Name = name
	return nil
}

func (r *BranchRegistry) Remove(branchID ID) error {
	if _, ok := r.branches[branchID]; !ok {
		return notFound("branch", branchID)
	}
	delete(r.branches, branchID)
	return nil
}

func (r *BranchRegistry) Len() int {
	return len(r.branches)
}

func (r *BranchRegistry) get(branchID ID) (*Branch, bool) {
	b, ok := r.branches[branchID]
	return b, ok
}

func (r *BranchRegistry) clone() *BranchRegistry {
	ret := &BranchRegistry{branches: make(map[ID]*Branch, len(r.branches))}
	for id, b := range r.branches {
		ret.branches[id] = b.Clone()
	}
	return ret
}

func sortBranches(list []*Branch) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
