package conversation

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Tree is one loaded conversation: its header, the MessageStore holding the
// message forest and the BranchRegistry holding fork metadata.
//
// A Tree is owned by a single request. It is built from a persisted Snapshot,
// mutated through a ForkEngine and flushed with Delta. It is not safe for
// concurrent use.
type Tree struct {
	conversation *Conversation
	store        *MessageStore
	branches     *BranchRegistry
	changes      *changeSet
	revision     uint64
}

// NewTree starts an empty tree for a conversation. A conversation that was
// never stored is marked dirty so the first Delta creates it.
func NewTree(c *Conversation) *Tree {
	t := &Tree{
		conversation: c.Clone(),
		store:        NewMessageStore(c.ID),
		branches:     NewBranchRegistry(),
		changes:      newChangeSet(),
	}
	t.conversation.RootMessageIDs = nil
	if c.Version == 0 {
		t.changes.conversation = true
	}
	return t
}

// LoadTree materialises a tree from persisted records.
func LoadTree(snapshot *Snapshot) (*Tree, error) {
	if snapshot == nil || snapshot.Conversation == nil {
		return nil, invalidOp("load tree", "snapshot has no conversation")
	}
	c := snapshot.Conversation
	store, err := LoadMessageStore(c.ID, snapshot.Messages)
	if err != nil {
		return nil, errors.Wrapf(err, "loading messages of conversation %s", c.ID)
	}
	for _, b := range snapshot.Branches {
		if b != nil && b.ConversationID != c.ID {
			return nil, invalidOp("load tree", "branch %s belongs to conversation %s, not %s", b.ID, b.ConversationID, c.ID)
		}
	}
	branches, err := LoadBranchRegistry(snapshot.Branches)
	if err != nil {
		return nil, errors.Wrapf(err, "loading branches of conversation %s", c.ID)
	}

	ret := &Tree{
		conversation: c.Clone(),
		store:        store,
		branches:     branches,
		changes:      newChangeSet(),
	}
	ret.conversation.RootMessageIDs = nil
	return ret, nil
}

func (t *Tree) ID() ID {
	return t.conversation.ID
}

// Revision counts the operations committed on this instance.
func (t *Tree) Revision() uint64 {
	return t.revision
}

// Conversation returns the header with the current root list.
func (t *Tree) Conversation() *Conversation {
	ret := t.conversation.Clone()
	ret.RootMessageIDs = t.store.RootIDs()
	return ret
}

func (t *Tree) Message(id ID) (*Message, error) {
	return t.store.Get(id)
}

// Messages returns every message in creation order.
func (t *Tree) Messages() []*Message {
	return t.store.All()
}

func (t *Tree) ChildrenOf(id ID) ([]*Message, error) {
	return t.store.ChildrenOf(id)
}

func (t *Tree) Roots() []*Message {
	return t.store.Roots()
}

func (t *Tree) Branch(id ID) (*Branch, error) {
	b, err := t.branches.Get(id)
	if err != nil {
		return nil, err
	}
	if b.ConversationID != t.ID() {
		return nil, notFound("branch", id)
	}
	return b, nil
}

func (t *Tree) Branches() []*Branch {
	return t.branches.BranchesOf(t.ID())
}

func (t *Tree) ActiveBranch() (*Branch, bool) {
	return t.branches.Active(t.ID())
}

// Navigator returns a VersionNavigator over the tree as of this call; fetch a
// new one after further operations.
func (t *Tree) Navigator() *VersionNavigator {
	return NewVersionNavigator(t.store)
}

func (t *Tree) SiblingVersions(id ID) ([]*Message, error) {
	return t.Navigator().SiblingsOf(id)
}

// Validate checks the forest invariant and that branches agree with the
// conversation.
func (t *Tree) Validate() error {
	if err := t.store.Validate(); err != nil {
		return err
	}
	active := 0
	for _, b := range t.branches.BranchesOf(t.ID()) {
		if b.IsActive {
			active++
		}
		if !b.ParentBranchID.IsNull() {
			if _, ok := t.branches.get(b.ParentBranchID); !ok {
				return notFound("parent branch", b.ParentBranchID)
			}
		}
		if !b.HeadMessageID.IsNull() && !t.store.Has(b.HeadMessageID) {
			return invalidOp("validate", "branch %s has head %s, which is not in the conversation", b.ID, b.HeadMessageID)
		}
	}
	if active > 1 {
		return invalidOp("validate", "conversation %s has %d active branches", t.ID(), active)
	}
	return nil
}

// Thread returns the path from the root down to id.
func (t *Tree) Thread(id ID) (Thread, error) {
	if !t.store.Has(id) {
		return nil, notFound("message", id)
	}
	var ret Thread
	for !id.IsNull() {
		m, ok := t.store.get(id)
		if !ok {
			break
		}
		ret = append(Thread{t.store.export(m)}, ret...)
		id = m.ParentID
	}
	return ret, nil
}

// LeftMostThread follows the oldest child from id down to a leaf.
func (t *Tree) LeftMostThread(id ID) (Thread, error) {
	if !t.store.Has(id) {
		return nil, notFound("message", id)
	}
	var ret Thread
	for !id.IsNull() {
		m, _ := t.store.get(id)
		ret = append(ret, t.store.export(m))
		children := t.store.sortedIDs(m.Children)
		if len(children) == 0 {
			break
		}
		id = children[0]
	}
	return ret, nil
}

// ActiveLeaf returns the head of the active branch. Branches stored without a
// head fall back to the newest message they own, or to their root message
// when they own none. ok is false when the conversation has no active branch
// or the active branch has nothing to show.
func (t *Tree) ActiveLeaf() (*Message, bool) {
	active, ok := t.branches.Active(t.ID())
	if !ok {
		return nil, false
	}
	if head, ok := t.store.get(active.HeadMessageID); ok {
		return t.store.export(head), true
	}
	var leaf *Message
	for _, m := range t.store.nodes {
		if m.BranchID != active.ID {
			continue
		}
		if leaf == nil || leaf.before(m) {
			leaf = m
		}
	}
	if leaf == nil {
		root, ok := t.store.get(active.RootMessageID)
		if !ok {
			return nil, false
		}
		leaf = root
	}
	return t.store.export(leaf), true
}

// ActivePath is the root-to-leaf sequence along the active branch. It is
// empty when no branch is active.
func (t *Tree) ActivePath() Thread {
	leaf, ok := t.ActiveLeaf()
	if !ok {
		return Thread{}
	}
	path, err := t.Thread(leaf.ID)
	if err != nil {
		return Thread{}
	}
	return path
}

// BranchMessages lists a branch in the structure view.
type BranchMessages struct {
	ID       ID         `json:"id" yaml:"id"`
	ParentID ID         `json:"parentId" yaml:"parentId"`
	Name     string     `json:"name" yaml:"name"`
	IsActive bool       `json:"isActive" yaml:"isActive"`
	Messages []*Message `json:"messages" yaml:"messages"`
}

// Structure is the whole-conversation view for the presentation layer.
type Structure struct {
	ID       ID                `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Messages []*Message        `json:"messages" yaml:"messages"`
	Branches []*BranchMessages `json:"branches" yaml:"branches"`
}

func (t *Tree) Structure() *Structure {
	ret := &Structure{
		ID:       t.ID(),
		Title:    t.conversation.Title,
		Messages: t.store.All(),
		Branches: []*BranchMessages{},
	}
	owned := map[ID][]*Message{}
	for _, m := range ret.Messages {
		owned[m.BranchID] = append(owned[m.BranchID], m)
	}
	for _, b := range t.branches.BranchesOf(t.ID()) {
		msgs := owned[b.ID]
		if msgs == nil {
			msgs = []*Message{}
		}
		ret.Branches = append(ret.Branches, &BranchMessages{
			ID:       b.ID,
			ParentID: b.ParentBranchID,
			Name:     b.Name,
			IsActive: b.IsActive,
			Messages: msgs,
		})
	}
	return ret
}

// Snapshot exports the tree as persisted records.
func (t *Tree) Snapshot() *Snapshot {
	return &Snapshot{
		Conversation: t.Conversation(),
		Messages:     t.store.All(),
		Branches:     t.branches.BranchesOf(t.ID()),
	}
}

// HasChanges reports whether Delta would return anything.
func (t *Tree) HasChanges() bool {
	return !t.changes.isEmpty()
}

// Delta returns the records touched since load or since the last
// MarkCommitted. The tree keeps tracking until MarkCommitted is called.
func (t *Tree) Delta() *Delta {
	ret := &Delta{}
	if t.changes.isEmpty() {
		return ret
	}
	ret.Conversation = t.Conversation()
	for _, id := range sortedKeys(t.changes.messages) {
		if m, ok := t.store.get(id); ok {
			ret.SavedMessages = append(ret.SavedMessages, t.store.export(m))
		}
	}
	ret.DeletedMessages = sortedKeys(t.changes.deletedMessages)
	for _, id := range sortedKeys(t.changes.branches) {
		if b, ok := t.branches.get(id); ok {
			ret.SavedBranches = append(ret.SavedBranches, b.Clone())
		}
	}
	ret.DeletedBranches = sortedKeys(t.changes.deletedBranches)
	return ret
}

// MarkCommitted records that the current Delta was stored: every saved record
// and the conversation header move to the next version.
func (t *Tree) MarkCommitted() {
	if t.changes.isEmpty() {
		return
	}
	for id := range t.changes.messages {
		if m, ok := t.store.get(id); ok {
			m.Version++
		}
	}
	for id := range t.changes.branches {
		if b, ok := t.branches.get(id); ok {
			b.Version++
		}
	}
	t.conversation.Version++
	t.changes = newChangeSet()
}

// SaveToFile writes the snapshot as indented JSON.
func (t *Tree) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// LoadTreeFromFile reads a snapshot written by SaveToFile.
func LoadTreeFromFile(filename string) (*Tree, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", filename)
	}
	return LoadTree(&snapshot)
}

// transact runs fn against a copy of the tree and adopts the copy only when
// fn and the invariant check both succeed.
func (t *Tree) transact(fn func(tx *Tree) error) error {
	tx := t.clone()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	tx.revision++
	*t = *tx
	return nil
}

func (t *Tree) clone() *Tree {
	return &Tree{
		conversation: t.conversation.Clone(),
		store:        t.store.clone(),
		branches:     t.branches.clone(),
		changes:      t.changes.clone(),
		revision:     t.revision,
	}
}

// The helpers below are the only mutation paths; each records the change.

func (t *Tree) touch(now time.Time) {
	t.conversation.UpdatedAt = now
	t.changes.conversation = true
}

func (t *Tree) insertMessage(m *Message, replacing ID) error {
	if err := t.store.insert(m, replacing); err != nil {
		return err
	}
	t.changes.saveMessage(m.ID)
	return nil
}

func (t *Tree) removeMessage(id ID) error {
	if err := t.store.Remove(id); err != nil {
		return err
	}
	t.changes.deleteMessage(id)
	return nil
}

func (t *Tree) registerBranch(b *Branch) error {
	if _, exists := t.branches.get(b.ID); exists {
		return invalidOp("register branch", "branch %s already exists", b.ID)
	}
	var changed []*Branch
	if b.IsActive {
		changed = t.branches.deactivateOthers(b.ConversationID, b.ID)
	}
	if err := t.branches.Register(b); err != nil {
		return err
	}
	for _, c := range changed {
		t.changes.saveBranch(c.ID)
	}
	t.changes.saveBranch(b.ID)
	return nil
}

func (t *Tree) activateBranch(id ID) error {
	changed, err := t.branches.activate(t.ID(), id)
	if err != nil {
		return err
	}
	for _, c := range changed {
		t.changes.saveBranch(c.ID)
	}
	return nil
}

func (t *Tree) setHead(branchID, messageID ID) {
	b, ok := t.branches.get(branchID)
	if !ok || b.HeadMessageID == messageID {
		return
	}
	b.HeadMessageID = messageID
	t.changes.saveBranch(branchID)
}

// retargetHeads moves every head that is about to be removed up to its
// nearest ancestor outside removed. removed must be closed under descendants.
func (t *Tree) retargetHeads(removed map[ID]struct{}) {
	for _, b := range t.branches.BranchesOf(t.ID()) {
		if _, gone := removed[b.HeadMessageID]; !gone {
			continue
		}
		head := b.HeadMessageID
		for {
			m, ok := t.store.get(head)
			if !ok {
				head = NullID
				break
			}
			if _, gone := removed[head]; !gone {
				break
			}
			head = m.ParentID
		}
		t.setHead(b.ID, head)
	}
}

func (t *Tree) removeBranch(id ID) error {
	if err := t.branches.Remove(id); err != nil {
		return err
	}
	t.changes.deleteBranch(id)
	return nil
}
