package conversation

import (
	"bytes"
	"sort"
)

// MessageStore owns the messages of one loaded conversation, indexed by id.
//
// Links are stored as ids only: every message keeps its ParentID and the
// store maintains the parent's Children on Insert and Remove. Messages with a
// null parent are kept in the root list. Removing is never recursive; cascades
// belong to the ForkEngine.
//
// Read accessors return clones, so callers cannot break the invariants by
// mutating what they get back.
type MessageStore struct {
	conversationID ID
	nodes          map[ID]*Message
	roots          []ID
	nextSeq        uint64
}

func NewMessageStore(conversationID ID) *MessageStore {
	return &MessageStore{
		conversationID: conversationID,
		nodes:          make(map[ID]*Message),
	}
}

// LoadMessageStore rebuilds a store from persisted records. Records may come
// in any order; they are sequenced by (CreatedAt, ID). NewID mints
// time-ordered ids, so for ids it minted this is insertion order. Orphans and
// cycles are rejected.
func LoadMessageStore(conversationID ID, msgs []*Message) (*MessageStore, error) {
	s := NewMessageStore(conversationID)

	sorted := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if err := s.checkInsertable(m); err != nil {
			return nil, err
		}
		if _, exists := s.nodes[m.ID]; exists {
			return nil, invalidOp("load messages", "duplicate message %s", m.ID)
		}
		c := m.Clone()
		c.Children = nil
		s.nodes[c.ID] = c
		sorted = append(sorted, c)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	for _, m := range sorted {
		s.nextSeq++
		m.seq = s.nextSeq
	}
	for _, m := range sorted {
		if m.IsRoot() {
			s.roots = append(s.roots, m.ID)
			continue
		}
		parent, ok := s.nodes[m.ParentID]
		if !ok {
			return nil, notFound("parent message", m.ParentID)
		}
		parent.Children = append(parent.Children, m.ID)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MessageStore) ConversationID() ID {
	return s.conversationID
}

func (s *MessageStore) Len() int {
	return len(s.nodes)
}

func (s *MessageStore) Has(id ID) bool {
	_, ok := s.nodes[id]
	return ok
}

// Insert adds msg and links it under its parent, or into the root list when
// ParentID is null. The store takes ownership of msg.
func (s *MessageStore) Insert(msg *Message) error {
	return s.insert(msg, NullID)
}

// insert places msg in the slot currently held by replacing in the parent's
// children (or root list). A null replacing appends.
func (s *MessageStore) insert(msg *Message, replacing ID) error {
	if err := s.checkInsertable(msg); err != nil {
		return err
	}
	if _, exists := s.nodes[msg.ID]; exists {
		return invalidOp("insert message", "message %s already exists", msg.ID)
	}

	var siblings *[]ID
	if msg.IsRoot() {
		siblings = &s.roots
	} else {
		parent, ok := s.nodes[msg.ParentID]
		if !ok {
			return notFound("parent message", msg.ParentID)
		}
		siblings = &parent.Children
	}

	msg.Children = nil
	s.nextSeq++
	msg.seq = s.nextSeq
	s.nodes[msg.ID] = msg

	if idx := indexOf(*siblings, replacing); !replacing.IsNull() && idx >= 0 {
		*siblings = append((*siblings)[:idx+1], (*siblings)[idx:]...)
		(*siblings)[idx] = msg.ID
		return nil
	}
	*siblings = append(*siblings, msg.ID)
	return nil
}

func (s *MessageStore) checkInsertable(msg *Message) error {
	if msg == nil {
		return invalidOp("insert message", "message is nil")
	}
	if msg.ID.IsNull() {
		return invalidOp("insert message", "message id is null")
	}
	if msg.ConversationID != s.conversationID {
		return invalidOp("insert message", "message %s belongs to conversation %s, not %s", msg.ID, msg.ConversationID, s.conversationID)
	}
	if !msg.Role.IsValid() {
		return invalidOp("insert message", "message %s has an invalid role", msg.ID)
	}
	if msg.ParentID == msg.ID {
		return invalidOp("insert message", "message %s is its own parent", msg.ID)
	}
	return nil
}

// Remove deletes one message and unlinks it from its parent or the root list.
// A message that still has children cannot be removed.
func (s *MessageStore) Remove(id ID) error {
	msg, ok := s.nodes[id]
	if !ok {
		return notFound("message", id)
	}
	if len(msg.Children) > 0 {
		return invalidOp("remove message", "message %s still has %d children", id, len(msg.Children))
	}
	if msg.IsRoot() {
		s.roots = removeID(s.roots, id)
	} else if parent, ok := s.nodes[msg.ParentID]; ok {
		parent.Children = removeID(parent.Children, id)
	}
	delete(s.nodes, id)
	return nil
}

// Get returns a copy of the message.
func (s *MessageStore) Get(id ID) (*Message, error) {
	msg, ok := s.nodes[id]
	if !ok {
		return nil, notFound("message", id)
	}
	return s.export(msg), nil
}

// ChildrenOf returns the children of id ordered by CreatedAt, then insertion.
func (s *MessageStore) ChildrenOf(id ID) ([]*Message, error) {
	msg, ok := s.nodes[id]
	if !ok {
		return nil, notFound("message", id)
	}
	ret := make([]*Message, 0, len(msg.Children))
	for _, childID := range s.sortedIDs(msg.Children) {
		ret = append(ret, s.export(s.nodes[childID]))
	}
	return ret, nil
}

// Roots returns the root messages in creation order.
func (s *MessageStore) Roots() []*Message {
	ret := make([]*Message, 0, len(s.roots))
	for _, id := range s.sortedIDs(s.roots) {
		ret = append(ret, s.export(s.nodes[id]))
	}
	return ret
}

// RootIDs returns the root list in creation order.
func (s *MessageStore) RootIDs() []ID {
	return s.sortedIDs(s.roots)
}

// All returns every message ordered by CreatedAt, then insertion.
func (s *MessageStore) All() []*Message {
	ordered := make([]*Message, 0, len(s.nodes))
	for _, m := range s.nodes {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].before(ordered[j]) })

	ret := make([]*Message, 0, len(ordered))
	for _, m := range ordered {
		ret = append(ret, s.export(m))
	}
	return ret
}

// Descendants collects every message below id, breadth first, excluding id.
func (s *MessageStore) Descendants(id ID) ([]ID, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, notFound("message", id)
	}
	var ret []ID
	queue := s.sortedIDs(s.nodes[id].Children)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		ret = append(ret, next)
		queue = append(queue, s.sortedIDs(s.nodes[next].Children)...)
	}
	return ret, nil
}

// Validate checks the forest invariant: every parent exists and lists its
// child exactly once, roots are listed once, and every message is reachable
// from a root (which rules out cycles).
func (s *MessageStore) Validate() error {
	listed := make(map[ID]int, len(s.nodes))
	for _, id := range s.roots {
		m, ok := s.nodes[id]
		if !ok {
			return notFound("root message", id)
		}
		if !m.IsRoot() {
			return invalidOp("validate", "message %s is in the root list but has parent %s", id, m.ParentID)
		}
		listed[id]++
	}
	for _, m := range s.nodes {
		for _, childID := range m.Children {
			child, ok := s.nodes[childID]
			if !ok {
				return notFound("child message", childID)
			}
			if child.ParentID != m.ID {
				return invalidOp("validate", "message %s lists child %s whose parent is %s", m.ID, childID, child.ParentID)
			}
			listed[childID]++
		}
	}
	for id, m := range s.nodes {
		if listed[id] != 1 {
			return invalidOp("validate", "message %s is linked %d times", id, listed[id])
		}
		if !m.IsRoot() {
			if _, ok := s.nodes[m.ParentID]; !ok {
				return notFound("parent message", m.ParentID)
			}
		}
	}

	reached := 0
	queue := append([]ID(nil), s.roots...)
	seen := make(map[ID]bool, len(s.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			return invalidOp("validate", "message %s reached twice", id)
		}
		seen[id] = true
		reached++
		queue = append(queue, s.nodes[id].Children...)
	}
	if reached != len(s.nodes) {
		return invalidOp("validate", "%d messages are not reachable from a root (cycle)", len(s.nodes)-reached)
	}
	return nil
}

func (s *MessageStore) get(id ID) (*Message, bool) {
	m, ok := s.nodes[id]
	return m, ok
}

func (s *MessageStore) export(m *Message) *Message {
	ret := m.Clone()
	ret.Children = s.sortedIDs(m.Children)
	return ret
}

func (s *MessageStore) sortedIDs(ids []ID) []ID {
	ret := append([]ID(nil), ids...)
	sort.SliceStable(ret, func(i, j int) bool {
		return s.nodes[ret[i]].before(s.nodes[ret[j]])
	})
	return ret
}

func (s *MessageStore) clone() *MessageStore {
	ret := &MessageStore{
		conversationID: s.conversationID,
		nodes:          make(map[ID]*Message, len(s.nodes)),
		roots:          append([]ID(nil), s.roots...),
		nextSeq:        s.nextSeq,
	}
	for id, m := range s.nodes {
		ret.nodes[id] = m.Clone()
	}
	return ret
}

func indexOf(ids []ID, id ID) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func removeID(ids []ID, id ID) []ID {
	idx := indexOf(ids, id)
	if idx < 0 {
		return ids
	}
	return append(ids[:idx:idx], ids[idx+1:]...)
}
