package persistence

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

type storedConversation struct {
	header   *conversation.Conversation
	messages map[conversation.ID]*conversation.Message
	branches map[conversation.ID]*conversation.Branch
}

func newStoredConversation(header *conversation.Conversation) *storedConversation {
	return &storedConversation{
		header:   header,
		messages: map[conversation.ID]*conversation.Message{},
		branches: map[conversation.ID]*conversation.Branch{},
	}
}

func (s *storedConversation) clone() *storedConversation {
	ret := newStoredConversation(s.header.Clone())
	for id, m := range s.messages {
		ret.messages[id] = m.Clone()
	}
	for id, b := range s.branches {
		ret.branches[id] = b.Clone()
	}
	return ret
}

func (s *storedConversation) snapshot() *conversation.Snapshot {
	ret := &conversation.Snapshot{
		Conversation: s.header.Clone(),
		Messages:     make([]*conversation.Message, 0, len(s.messages)),
		Branches:     make([]*conversation.Branch, 0, len(s.branches)),
	}
	for _, m := range s.messages {
		ret.Messages = append(ret.Messages, m.Clone())
	}
	for _, b := range s.branches {
		ret.Branches = append(ret.Branches, b.Clone())
	}
	sort.Slice(ret.Messages, func(i, j int) bool { return idLess(ret.Messages[i].ID, ret.Messages[j].ID) })
	sort.Slice(ret.Branches, func(i, j int) bool { return idLess(ret.Branches[i].ID, ret.Branches[j].ID) })
	return ret
}

// InMemoryAdapter is a thread-safe Adapter keeping everything in maps. It
// also backs the YAML file adapter.
type InMemoryAdapter struct {
	mu            sync.RWMutex
	conversations map[conversation.ID]*storedConversation
	closed        bool
}

var _ Adapter = (*InMemoryAdapter)(nil)

func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{
		conversations: map[conversation.ID]*storedConversation{},
	}
}

func (s *InMemoryAdapter) LoadConversation(_ context.Context, id conversation.ID) (*conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	sc, ok := s.conversations[id]
	if !ok {
		return nil, &conversation.NotFoundError{Resource: "conversation", ID: id}
	}
	return sc.snapshot(), nil
}

func (s *InMemoryAdapter) ListConversations(_ context.Context) ([]*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	ret := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, sc := range s.conversations {
		ret = append(ret, sc.header.Clone())
	}
	sortConversations(ret)
	return ret, nil
}

func (s *InMemoryAdapter) SaveConversation(_ context.Context, c *conversation.Conversation) error {
	if c == nil {
		return &conversation.InvalidOperationError{Op: "save conversation", Reason: "conversation is nil"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.applyLocked(&conversation.Delta{Conversation: c})
}

func (s *InMemoryAdapter) SaveMessages(_ context.Context, msgs []*conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	var writes []*conversation.Message
	for _, m := range msgs {
		sc, ok := s.conversations[m.ConversationID]
		if !ok {
			return &conversation.NotFoundError{Resource: "conversation", ID: m.ConversationID}
		}
		skip, err := checkMessage(sc, m)
		if err != nil {
			return err
		}
		if !skip {
			writes = append(writes, m)
		}
	}
	for _, m := range writes {
		s.conversations[m.ConversationID].messages[m.ID] = nextMessage(m)
	}
	return nil
}

func (s *InMemoryAdapter) DeleteMessages(_ context.Context, ids []conversation.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	for _, id := range ids {
		for _, sc := range s.conversations {
			delete(sc.messages, id)
		}
	}
	return nil
}

func (s *InMemoryAdapter) SaveBranches(_ context.Context, branches []*conversation.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	var writes []*conversation.Branch
	for _, b := range branches {
		sc, ok := s.conversations[b.ConversationID]
		if !ok {
			return &conversation.NotFoundError{Resource: "conversation", ID: b.ConversationID}
		}
		skip, err := checkBranch(sc, b)
		if err != nil {
			return err
		}
		if !skip {
			writes = append(writes, b)
		}
	}
	for _, b := range writes {
		s.conversations[b.ConversationID].branches[b.ID] = nextBranch(b)
	}
	return nil
}

func (s *InMemoryAdapter) DeleteBranches(_ context.Context, ids []conversation.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	for _, id := range ids {
		for _, sc := range s.conversations {
			delete(sc.branches, id)
		}
	}
	return nil
}

func (s *InMemoryAdapter) DeleteConversation(_ context.Context, id conversation.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if _, ok := s.conversations[id]; !ok {
		return &conversation.NotFoundError{Resource: "conversation", ID: id}
	}
	delete(s.conversations, id)
	return nil
}

func (s *InMemoryAdapter) Apply(_ context.Context, delta *conversation.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.applyLocked(delta)
}

func (s *InMemoryAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// applyLocked checks every version first and only then writes, so a failed
// delta leaves the maps untouched.
func (s *InMemoryAdapter) applyLocked(delta *conversation.Delta) error {
	if delta.IsEmpty() {
		return nil
	}
	c := delta.Conversation
	if c == nil {
		return &conversation.InvalidOperationError{Op: "apply", Reason: "delta has no conversation header"}
	}

	sc, exists := s.conversations[c.ID]
	var stored *uint64
	if exists {
		v := sc.header.Version
		stored = &v
	}
	skipHeader, err := versionCheck("conversation", c.ID, stored, c.Version, func() bool {
		return sameConversation(sc.header, c)
	})
	if err != nil {
		return err
	}
	if !exists {
		sc = newStoredConversation(nil)
	}

	var messages []*conversation.Message
	for _, m := range delta.SavedMessages {
		if m.ConversationID != c.ID {
			return &conversation.InvalidOperationError{Op: "apply", Reason: fmt.Sprintf("message %s belongs to conversation %s", m.ID, m.ConversationID)}
		}
		if err := s.checkOwner(c.ID, m.ID, func(other *storedConversation) bool { _, ok := other.messages[m.ID]; return ok }); err != nil {
			return err
		}
		skip, err := checkMessage(sc, m)
		if err != nil {
			return err
		}
		if !skip {
			messages = append(messages, m)
		}
	}
	var branches []*conversation.Branch
	for _, b := range delta.SavedBranches {
		if b.ConversationID != c.ID {
			return &conversation.InvalidOperationError{Op: "apply", Reason: fmt.Sprintf("branch %s belongs to conversation %s", b.ID, b.ConversationID)}
		}
		if err := s.checkOwner(c.ID, b.ID, func(other *storedConversation) bool { _, ok := other.branches[b.ID]; return ok }); err != nil {
			return err
		}
		skip, err := checkBranch(sc, b)
		if err != nil {
			return err
		}
		if !skip {
			branches = append(branches, b)
		}
	}

	if !skipHeader {
		sc.header = nextConversation(c)
	}
	for _, m := range messages {
		sc.messages[m.ID] = nextMessage(m)
	}
	for _, b := range branches {
		sc.branches[b.ID] = nextBranch(b)
	}
	for _, id := range delta.DeletedMessages {
		delete(sc.messages, id)
	}
	for _, id := range delta.DeletedBranches {
		delete(sc.branches, id)
	}
	s.conversations[c.ID] = sc
	return nil
}

func (s *InMemoryAdapter) checkOwner(convID, id conversation.ID, has func(*storedConversation) bool) error {
	for otherID, other := range s.conversations {
		if otherID != convID && has(other) {
			return &conversation.InvalidOperationError{Op: "apply", Reason: fmt.Sprintf("record %s belongs to conversation %s", id, otherID)}
		}
	}
	return nil
}

func (s *InMemoryAdapter) ensureOpen() error {
	if s.closed {
		return persistenceError("open", fmt.Errorf("in-memory adapter closed"))
	}
	return nil
}

// cloneState and restoreState let the file adapter roll back when writing to
// disk fails.
func (s *InMemoryAdapter) cloneState() map[conversation.ID]*storedConversation {
	ret := make(map[conversation.ID]*storedConversation, len(s.conversations))
	for id, sc := range s.conversations {
		ret[id] = sc.clone()
	}
	return ret
}

func (s *InMemoryAdapter) restoreState(state map[conversation.ID]*storedConversation) {
	s.conversations = state
}

func (s *InMemoryAdapter) snapshotsLocked() []*conversation.Snapshot {
	headers := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, sc := range s.conversations {
		headers = append(headers, sc.header)
	}
	sortConversations(headers)
	ret := make([]*conversation.Snapshot, 0, len(headers))
	for _, h := range headers {
		ret = append(ret, s.conversations[h.ID].snapshot())
	}
	return ret
}

func checkMessage(sc *storedConversation, m *conversation.Message) (bool, error) {
	existing, ok := sc.messages[m.ID]
	var stored *uint64
	if ok {
		v := existing.Version
		stored = &v
	}
	return versionCheck("message", m.ID, stored, m.Version, func() bool {
		return sameMessage(existing, m)
	})
}

func checkBranch(sc *storedConversation, b *conversation.Branch) (bool, error) {
	existing, ok := sc.branches[b.ID]
	var stored *uint64
	if ok {
		v := existing.Version
		stored = &v
	}
	return versionCheck("branch", b.ID, stored, b.Version, func() bool {
		return sameBranch(existing, b)
	})
}

func nextConversation(c *conversation.Conversation) *conversation.Conversation {
	ret := c.Clone()
	ret.Version = c.Version + 1
	return ret
}

func nextMessage(m *conversation.Message) *conversation.Message {
	ret := m.Clone()
	ret.Children = nil
	ret.Version = m.Version + 1
	return ret
}

func nextBranch(b *conversation.Branch) *conversation.Branch {
	ret := b.Clone()
	ret.Version = b.Version + 1
	return ret
}

func idLess(a, b conversation.ID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func sortConversations(list []*conversation.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return idLess(list[i].ID, list[j].ID)
	})
}
