package persistence

import (
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

// The record types are the storage shape shared by the SQLite and YAML
// adapters: plain strings for ids and roles, empty string for a null id.

type messageRecord struct {
	ID              string    `yaml:"id"`
	ConversationID  string    `yaml:"conversationId"`
	ParentID        string    `yaml:"parentId,omitempty"`
	BranchID        string    `yaml:"branchId,omitempty"`
	Role            string    `yaml:"role"`
	Content         string    `yaml:"content"`
	IsEdited        bool      `yaml:"isEdited,omitempty"`
	OriginalContent *string   `yaml:"originalContent,omitempty"`
	CreatedAt       time.Time `yaml:"createdAt"`
	UpdatedAt       time.Time `yaml:"updatedAt"`
	Version         uint64    `yaml:"version"`
}

type branchRecord struct {
	ID             string    `yaml:"id"`
	ConversationID string    `yaml:"conversationId"`
	RootMessageID  string    `yaml:"rootMessageId,omitempty"`
	ParentBranchID string    `yaml:"parentBranchId,omitempty"`
	HeadMessageID  string    `yaml:"headMessageId,omitempty"`
	Name           string    `yaml:"name"`
	IsActive       bool      `yaml:"isActive,omitempty"`
	CreatedAt      time.Time `yaml:"createdAt"`
	Version        uint64    `yaml:"version"`
}

type conversationRecord struct {
	ID             string          `yaml:"id"`
	Title          string          `yaml:"title"`
	RootMessageIDs []string        `yaml:"rootMessageIds,omitempty"`
	CreatedAt      time.Time       `yaml:"createdAt"`
	UpdatedAt      time.Time       `yaml:"updatedAt"`
	Version        uint64          `yaml:"version"`
	Messages       []messageRecord `yaml:"messages,omitempty"`
	Branches       []branchRecord  `yaml:"branches,omitempty"`
}

func newMessageRecord(m *conversation.Message) messageRecord {
	ret := messageRecord{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		ParentID:       idText(m.ParentID),
		BranchID:       idText(m.BranchID),
		Role:           m.Role.String(),
		Content:        m.Content,
		IsEdited:       m.IsEdited,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		Version:        m.Version,
	}
	if m.OriginalContent != nil {
		original := *m.OriginalContent
		ret.OriginalContent = &original
	}
	return ret
}

func (r messageRecord) toMessage() (*conversation.Message, error) {
	id, err := conversation.ParseID(r.ID)
	if err != nil {
		return nil, err
	}
	convID, err := conversation.ParseID(r.ConversationID)
	if err != nil {
		return nil, err
	}
	parentID, err := conversation.ParseID(r.ParentID)
	if err != nil {
		return nil, err
	}
	branchID, err := conversation.ParseID(r.BranchID)
	if err != nil {
		return nil, err
	}
	role, err := conversation.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	ret := &conversation.Message{
		ID:             id,
		ParentID:       parentID,
		ConversationID: convID,
		BranchID:       branchID,
		Role:           role,
		Content:        r.Content,
		IsEdited:       r.IsEdited,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		Version:        r.Version,
	}
	if r.OriginalContent != nil {
		original := *r.OriginalContent
		ret.OriginalContent = &original
	}
	return ret, nil
}

func newBranchRecord(b *conversation.Branch) branchRecord {
	return branchRecord{
		ID:             b.ID.String(),
		ConversationID: b.ConversationID.String(),
		RootMessageID:  idText(b.RootMessageID),
		ParentBranchID: idText(b.ParentBranchID),
		HeadMessageID:  idText(b.HeadMessageID),
		Name:           b.Name,
		IsActive:       b.IsActive,
		CreatedAt:      b.CreatedAt.UTC(),
		Version:        b.Version,
	}
}

func (r branchRecord) toBranch() (*conversation.Branch, error) {
	id, err := conversation.ParseID(r.ID)
	if err != nil {
		return nil, err
	}
	convID, err := conversation.ParseID(r.ConversationID)
	if err != nil {
		return nil, err
	}
	rootID, err := conversation.ParseID(r.RootMessageID)
	if err != nil {
		return nil, err
	}
	parentID, err := conversation.ParseID(r.ParentBranchID)
	if err != nil {
		return nil, err
	}
	headID, err := conversation.ParseID(r.HeadMessageID)
	if err != nil {
		return nil, err
	}
	return &conversation.Branch{
		ID:             id,
		ConversationID: convID,
		RootMessageID:  rootID,
		ParentBranchID: parentID,
		HeadMessageID:  headID,
		Name:           r.Name,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt.UTC(),
		Version:        r.Version,
	}, nil
}

func newConversationRecord(s *conversation.Snapshot) conversationRecord {
	c := s.Conversation
	ret := conversationRecord{
		ID:        c.ID.String(),
		Title:     c.Title,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
		Version:   c.Version,
	}
	for _, id := range c.RootMessageIDs {
		ret.RootMessageIDs = append(ret.RootMessageIDs, id.String())
	}
	for _, m := range s.Messages {
		ret.Messages = append(ret.Messages, newMessageRecord(m))
	}
	for _, b := range s.Branches {
		ret.Branches = append(ret.Branches, newBranchRecord(b))
	}
	return ret
}

func (r conversationRecord) toSnapshot() (*conversation.Snapshot, error) {
	id, err := conversation.ParseID(r.ID)
	if err != nil {
		return nil, err
	}
	c := &conversation.Conversation{
		ID:        id,
		Title:     r.Title,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}
	for _, raw := range r.RootMessageIDs {
		rootID, err := conversation.ParseID(raw)
		if err != nil {
			return nil, err
		}
		c.RootMessageIDs = append(c.RootMessageIDs, rootID)
	}
	ret := &conversation.Snapshot{Conversation: c}
	for _, mr := range r.Messages {
		m, err := mr.toMessage()
		if err != nil {
			return nil, err
		}
		ret.Messages = append(ret.Messages, m)
	}
	for _, br := range r.Branches {
		b, err := br.toBranch()
		if err != nil {
			return nil, err
		}
		ret.Branches = append(ret.Branches, b)
	}
	return ret, nil
}
