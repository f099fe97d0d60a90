package persistence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const yamlFileFormatVersion = 1

type yamlDocument struct {
	Version       int                  `yaml:"version"`
	Conversations []conversationRecord `yaml:"conversations"`
}

// YAMLFileAdapter keeps every conversation in one YAML document. Reads are
// served from memory; each write is applied in memory and then the whole
// document is rewritten through a temporary file and a rename. If writing
// the file fails the in-memory state is rolled back.
type YAMLFileAdapter struct {
	mu     sync.RWMutex
	path   string
	store  *InMemoryAdapter
	closed bool
}

var _ Adapter = (*YAMLFileAdapter)(nil)

func NewYAMLFileAdapter(path string) (*YAMLFileAdapter, error) {
	if path == "" {
		return nil, fmt.Errorf("yaml adapter path is required")
	}
	s := &YAMLFileAdapter{
		path:  path,
		store: NewInMemoryAdapter(),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, persistenceError("load yaml", err)
	}
	return s, nil
}

func (s *YAMLFileAdapter) LoadConversation(ctx context.Context, id conversation.ID) (*conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.LoadConversation(ctx, id)
}

func (s *YAMLFileAdapter) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.ListConversations(ctx)
}

func (s *YAMLFileAdapter) SaveConversation(ctx context.Context, c *conversation.Conversation) error {
	return s.write(func() error { return s.store.SaveConversation(ctx, c) })
}

func (s *YAMLFileAdapter) SaveMessages(ctx context.Context, msgs []*conversation.Message) error {
	return s.write(func() error { return s.store.SaveMessages(ctx, msgs) })
}

func (s *YAMLFileAdapter) DeleteMessages(ctx context.Context, ids []conversation.ID) error {
	return s.write(func() error { return s.store.DeleteMessages(ctx, ids) })
}

func (s *YAMLFileAdapter) SaveBranches(ctx context.Context, branches []*conversation.Branch) error {
	return s.write(func() error { return s.store.SaveBranches(ctx, branches) })
}

func (s *YAMLFileAdapter) DeleteBranches(ctx context.Context, ids []conversation.ID) error {
	return s.write(func() error { return s.store.DeleteBranches(ctx, ids) })
}

func (s *YAMLFileAdapter) DeleteConversation(ctx context.Context, id conversation.ID) error {
	return s.write(func() error { return s.store.DeleteConversation(ctx, id) })
}

func (s *YAMLFileAdapter) Apply(ctx context.Context, delta *conversation.Delta) error {
	return s.write(func() error { return s.store.Apply(ctx, delta) })
}

func (s *YAMLFileAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.store.Close()
}

func (s *YAMLFileAdapter) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	s.store.mu.RLock()
	previous := s.store.cloneState()
	s.store.mu.RUnlock()

	if err := fn(); err != nil {
		return err
	}
	if err := s.persistLocked(); err != nil {
		s.store.mu.Lock()
		s.store.restoreState(previous)
		s.store.mu.Unlock()
		return persistenceError("write yaml", err)
	}
	return nil
}

func (s *YAMLFileAdapter) loadFromDisk() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return errors.Wrapf(err, "decoding %s", s.path)
	}
	if doc.Version != 0 && doc.Version != yamlFileFormatVersion {
		return fmt.Errorf("unsupported yaml store version %d", doc.Version)
	}

	store := NewInMemoryAdapter()
	for _, rec := range doc.Conversations {
		snapshot, err := rec.toSnapshot()
		if err != nil {
			return errors.Wrapf(err, "decoding conversation %s", rec.ID)
		}
		sc := newStoredConversation(snapshot.Conversation)
		for _, m := range snapshot.Messages {
			sc.messages[m.ID] = m
		}
		for _, b := range snapshot.Branches {
			sc.branches[b.ID] = b
		}
		store.conversations[sc.header.ID] = sc
	}
	s.store = store
	return nil
}

func (s *YAMLFileAdapter) persistLocked() error {
	s.store.mu.RLock()
	snapshots := s.store.snapshotsLocked()
	s.store.mu.RUnlock()

	doc := yamlDocument{Version: yamlFileFormatVersion, Conversations: []conversationRecord{}}
	for _, snapshot := range snapshots {
		doc.Conversations = append(doc.Conversations, newConversationRecord(snapshot))
	}
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *YAMLFileAdapter) ensureOpen() error {
	if s.closed {
		return persistenceError("open", fmt.Errorf("yaml adapter closed"))
	}
	return nil
}
