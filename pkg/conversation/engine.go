package conversation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ForkEngine implements the mutating operations on a Tree. Every operation is
// all-or-nothing: it runs against a copy of the tree and the copy replaces the
// live state only when the whole operation succeeded.
//
// Edits are destructive: the edited message and everything below it are
// removed. Regeneration and explicit forks never discard anything.
type ForkEngine struct {
	tree  *Tree
	clock func() time.Time
	newID IDGenerator
}

type EngineOption func(*ForkEngine)

// WithClock replaces the time source. Tests use a fixed clock to force
// timestamp ties.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *ForkEngine) {
		e.clock = clock
	}
}

func WithIDGenerator(gen IDGenerator) EngineOption {
	return func(e *ForkEngine) {
		e.newID = gen
	}
}

func NewForkEngine(tree *Tree, options ...EngineOption) *ForkEngine {
	ret := &ForkEngine{
		tree:  tree,
		clock: func() time.Time { return time.Now().UTC() },
		newID: NewID,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (e *ForkEngine) Tree() *Tree {
	return e.tree
}

// EditResult is what EditMessage produced: the replacement message and every
// id that was removed, the edited message first.
type EditResult struct {
	NewMessage   *Message `json:"newMessage"`
	DiscardedIDs []ID     `json:"discardedIds"`
}

// AddMessage appends a message under parentID, or as a new root when parentID
// is null. The message joins the active branch and becomes its head; when
// none is active a new branch rooted at the message is created and activated.
func (e *ForkEngine) AddMessage(conversationID, parentID ID, role Role, content string) (*Message, error) {
	if conversationID != e.tree.ID() {
		return nil, notFound("conversation", conversationID)
	}
	if !role.IsValid() {
		return nil, invalidOp("add message", "invalid role")
	}
	if strings.TrimSpace(content) == "" {
		return nil, invalidOp("add message", "content is empty")
	}

	var ret *Message
	err := e.tree.transact(func(tx *Tree) error {
		if !parentID.IsNull() && !tx.store.Has(parentID) {
			return notFound("parent message", parentID)
		}
		now := e.clock()
		msg := &Message{
			ID:             e.newID(),
			ParentID:       parentID,
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if active, ok := tx.branches.Active(tx.ID()); ok {
			msg.BranchID = active.ID
		} else {
			b := e.newBranch(tx, msg.ID, NullID, "", now)
			if parent, ok := tx.store.get(parentID); ok {
				if _, exists := tx.branches.get(parent.BranchID); exists {
					b.ParentBranchID = parent.BranchID
				}
			}
			if err := tx.registerBranch(b); err != nil {
				return err
			}
			msg.BranchID = b.ID
		}

		if err := tx.insertMessage(msg, NullID); err != nil {
			return err
		}
		tx.setHead(msg.BranchID, msg.ID)
		tx.touch(now)
		ret = msg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// EditMessage replaces a user message by a new version in a new active
// branch. The new message takes the old one's place under the same parent;
// the old message and all of its descendants are removed, as are branches
// rooted inside the removed subtree.
func (e *ForkEngine) EditMessage(messageID ID, newContent string) (*EditResult, error) {
	var ret *EditResult
	err := e.tree.transact(func(tx *Tree) error {
		old, ok := tx.store.get(messageID)
		if !ok {
			return notFound("message", messageID)
		}
		if old.Role != RoleUser {
			return invalidOp("edit message", "message %s has role %s; only user messages can be edited", messageID, old.Role)
		}
		if strings.TrimSpace(newContent) == "" {
			return invalidOp("edit message", "content is empty")
		}

		descendants, err := tx.store.Descendants(messageID)
		if err != nil {
			return err
		}
		discarded := append([]ID{messageID}, descendants...)

		now := e.clock()
		msgID := e.newID()
		b := e.newBranch(tx, msgID, e.existingBranch(tx, old.BranchID), "edit", now)
		b.HeadMessageID = msgID
		msg := NewMessage(old.ConversationID, RoleUser, newContent,
			WithID(msgID),
			WithParentID(old.ParentID),
			WithBranchID(b.ID),
			WithTime(now),
			WithOriginalContent(old.Content),
		)
		if err := tx.registerBranch(b); err != nil {
			return err
		}
		if err := tx.insertMessage(msg, messageID); err != nil {
			return err
		}
		tx.retargetHeads(idSet(discarded))

		// BFS order lists parents first, so reversing it removes leaves first.
		for i := len(discarded) - 1; i >= 0; i-- {
			if err := tx.removeMessage(discarded[i]); err != nil {
				return err
			}
		}

		doomed := branchesRootedIn(tx, idSet(discarded))
		if err := pruneBranches(tx, doomed, b.ID); err != nil {
			return err
		}

		tx.touch(now)
		ret = &EditResult{
			NewMessage:   tx.store.export(msg),
			DiscardedIDs: discarded,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Regenerate adds an alternate assistant reply next to messageID, in a new
// active branch. The original reply and its descendants stay untouched.
func (e *ForkEngine) Regenerate(messageID ID, newContent string) (*Message, error) {
	var ret *Message
	err := e.tree.transact(func(tx *Tree) error {
		old, ok := tx.store.get(messageID)
		if !ok {
			return notFound("message", messageID)
		}
		if old.Role != RoleAssistant {
			return invalidOp("regenerate", "message %s has role %s; only assistant messages can be regenerated", messageID, old.Role)
		}
		if strings.TrimSpace(newContent) == "" {
			return invalidOp("regenerate", "content is empty")
		}

		now := e.clock()
		msgID := e.newID()
		b := e.newBranch(tx, msgID, e.existingBranch(tx, old.BranchID), "regenerate", now)
		b.HeadMessageID = msgID
		msg := NewMessage(old.ConversationID, RoleAssistant, newContent,
			WithID(msgID),
			WithParentID(old.ParentID),
			WithBranchID(b.ID),
			WithTime(now),
		)
		if err := tx.registerBranch(b); err != nil {
			return err
		}
		if err := tx.insertMessage(msg, NullID); err != nil {
			return err
		}
		tx.touch(now)
		ret = msg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Fork opens an empty branch at an existing message and activates it. The
// next message added with that message as parent continues the fork.
func (e *ForkEngine) Fork(fromMessageID ID, name string) (*Branch, error) {
	var ret *Branch
	err := e.tree.transact(func(tx *Tree) error {
		from, ok := tx.store.get(fromMessageID)
		if !ok {
			return notFound("message", fromMessageID)
		}
		now := e.clock()
		b := e.newBranch(tx, from.ID, e.existingBranch(tx, from.BranchID), "fork", now)
		b.HeadMessageID = from.ID
		if strings.TrimSpace(name) != "" {
			b.Name = name
		}
		if err := tx.registerBranch(b); err != nil {
			return err
		}
		tx.touch(now)
		ret = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// ActivateBranch makes branchID the single active branch of the conversation.
func (e *ForkEngine) ActivateBranch(branchID ID) error {
	return e.tree.transact(func(tx *Tree) error {
		if err := tx.activateBranch(branchID); err != nil {
			return err
		}
		tx.touch(e.clock())
		return nil
	})
}

// SelectVersion switches to the branch that owns messageID and moves that
// branch's head to the newest message it owns in messageID's subtree, so the
// selected sibling version is on the active path even when a newer sibling
// shares its branch.
func (e *ForkEngine) SelectVersion(messageID ID) (*Branch, error) {
	var ret *Branch
	err := e.tree.transact(func(tx *Tree) error {
		m, ok := tx.store.get(messageID)
		if !ok {
			return notFound("message", messageID)
		}
		if _, ok := tx.branches.get(m.BranchID); !ok {
			return notFound("branch", m.BranchID)
		}
		descendants, err := tx.store.Descendants(messageID)
		if err != nil {
			return err
		}
		head := m
		for _, id := range descendants {
			d, _ := tx.store.get(id)
			if d.BranchID == m.BranchID && head.before(d) {
				head = d
			}
		}
		tx.setHead(m.BranchID, head.ID)
		if err := tx.activateBranch(m.BranchID); err != nil {
			return err
		}
		tx.touch(e.clock())
		b, _ := tx.branches.get(m.BranchID)
		ret = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (e *ForkEngine) RenameBranch(branchID ID, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalidOp("rename branch", "name is empty")
	}
	return e.tree.transact(func(tx *Tree) error {
		b, ok := tx.branches.get(branchID)
		if !ok || b.ConversationID != tx.ID() {
			return notFound("branch", branchID)
		}
		if err := tx.branches.Rename(branchID, name); err != nil {
			return err
		}
		tx.changes.saveBranch(branchID)
		tx.touch(e.clock())
		return nil
	})
}

// DeleteBranch removes a branch, every message it owns and all of their
// descendants. Branches rooted inside the removed messages go too; surviving
// child branches move up to the deleted branch's parent. If the deleted
// branch was active, its parent (or else the newest remaining branch) becomes
// active. The removed message ids are returned parents first.
func (e *ForkEngine) DeleteBranch(branchID ID) ([]ID, error) {
	var ret []ID
	err := e.tree.transact(func(tx *Tree) error {
		target, ok := tx.branches.get(branchID)
		if !ok || target.ConversationID != tx.ID() {
			return notFound("branch", branchID)
		}

		removed := map[ID]struct{}{}
		for _, m := range tx.store.All() {
			if m.BranchID != branchID {
				continue
			}
			if _, seen := removed[m.ID]; seen {
				continue
			}
			removed[m.ID] = struct{}{}
			descendants, err := tx.store.Descendants(m.ID)
			if err != nil {
				return err
			}
			for _, id := range descendants {
				removed[id] = struct{}{}
			}
		}

		tx.retargetHeads(removed)
		ordered := orderByDepth(tx, removed)
		for i := len(ordered) - 1; i >= 0; i-- {
			if err := tx.removeMessage(ordered[i]); err != nil {
				return err
			}
		}

		doomed := branchesRootedIn(tx, removed)
		doomed[branchID] = struct{}{}
		wasActive := false
		for id := range doomed {
			if b, ok := tx.branches.get(id); ok && b.IsActive {
				wasActive = true
			}
		}
		next := survivorOf(tx, doomed, target.ParentBranchID)

		if err := pruneBranches(tx, doomed, next); err != nil {
			return err
		}

		if wasActive {
			if next.IsNull() {
				if remaining := tx.branches.BranchesOf(tx.ID()); len(remaining) > 0 {
					next = remaining[len(remaining)-1].ID
				}
			}
			if !next.IsNull() {
				if err := tx.activateBranch(next); err != nil {
					return err
				}
			}
		}

		tx.touch(e.clock())
		ret = ordered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (e *ForkEngine) newBranch(tx *Tree, rootMessageID, parentBranchID ID, kind string, now time.Time) *Branch {
	name := "main"
	if kind != "" || tx.branches.Len() > 0 {
		if kind == "" {
			kind = "branch"
		}
		name = fmt.Sprintf("%s-%d", kind, len(tx.branches.BranchesOf(tx.ID()))+1)
	}
	return &Branch{
		ID:             e.newID(),
		ConversationID: tx.ID(),
		RootMessageID:  rootMessageID,
		ParentBranchID: parentBranchID,
		Name:           name,
		IsActive:       true,
		CreatedAt:      now,
	}
}

// existingBranch drops references to branches the registry does not know.
func (e *ForkEngine) existingBranch(tx *Tree, id ID) ID {
	if _, ok := tx.branches.get(id); ok {
		return id
	}
	return NullID
}

func idSet(ids []ID) map[ID]struct{} {
	ret := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		ret[id] = struct{}{}
	}
	return ret
}

// branchesRootedIn returns the branches whose root message is in messages.
func branchesRootedIn(tx *Tree, messages map[ID]struct{}) map[ID]struct{} {
	ret := map[ID]struct{}{}
	for _, b := range tx.branches.BranchesOf(tx.ID()) {
		if _, gone := messages[b.RootMessageID]; gone {
			ret[b.ID] = struct{}{}
		}
	}
	return ret
}

// survivorOf walks up the branch parents from id to the first branch that is
// not doomed.
func survivorOf(tx *Tree, doomed map[ID]struct{}, id ID) ID {
	for hops := 0; !id.IsNull() && hops <= tx.branches.Len(); hops++ {
		if _, gone := doomed[id]; !gone {
			return id
		}
		b, ok := tx.branches.get(id)
		if !ok {
			return NullID
		}
		id = b.ParentBranchID
	}
	return NullID
}

// pruneBranches removes the doomed branches. Surviving child branches are
// re-parented to the nearest surviving ancestor, and surviving messages owned
// by a doomed branch move to that ancestor, or to fallback if there is none.
func pruneBranches(tx *Tree, doomed map[ID]struct{}, fallback ID) error {
	if len(doomed) == 0 {
		return nil
	}
	for _, b := range tx.branches.BranchesOf(tx.ID()) {
		if _, gone := doomed[b.ID]; gone {
			continue
		}
		if _, gone := doomed[b.ParentBranchID]; gone {
			live, _ := tx.branches.get(b.ID)
			live.ParentBranchID = survivorOf(tx, doomed, b.ParentBranchID)
			tx.changes.saveBranch(b.ID)
		}
	}
	for _, m := range tx.store.nodes {
		if _, gone := doomed[m.BranchID]; !gone {
			continue
		}
		target := survivorOf(tx, doomed, m.BranchID)
		if target.IsNull() {
			target = fallback
		}
		m.BranchID = target
		tx.changes.saveMessage(m.ID)
	}
	for _, id := range sortedKeys(doomed) {
		if err := tx.removeBranch(id); err != nil {
			return err
		}
	}
	return nil
}

// orderByDepth sorts ids so that every message comes after its ancestors.
func orderByDepth(tx *Tree, ids map[ID]struct{}) []ID {
	depth := make(map[ID]int, len(ids))
	ret := make([]ID, 0, len(ids))
	for id := range ids {
		d := 0
		for cur, ok := tx.store.get(id); ok && !cur.IsRoot(); cur, ok = tx.store.get(cur.ParentID) {
			d++
		}
		depth[id] = d
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool {
		if depth[ret[i]] != depth[ret[j]] {
			return depth[ret[i]] < depth[ret[j]]
		}
		a, _ := tx.store.get(ret[i])
		b, _ := tx.store.get(ret[j])
		return a.before(b)
	})
	return ret
}
