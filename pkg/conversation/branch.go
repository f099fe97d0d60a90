package conversation

import "time"

// Branch records a fork point: a lineage of messages that started at
// RootMessageID and split off ParentBranchID. HeadMessageID is the leaf the
// branch currently shows; it moves with adds and version selection.
type Branch struct {
	ID             ID        `json:"id"`
	ConversationID ID        `json:"conversationId"`
	RootMessageID  ID        `json:"rootMessageId"`
	ParentBranchID ID        `json:"parentBranchId"`
	HeadMessageID  ID        `json:"headMessageId"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	Version        uint64    `json:"version"`
}

func (b *Branch) Clone() *Branch {
	if b == nil {
		return nil
	}
	ret := *b
	return &ret
}

// Conversation is the logical grouping of a forest of messages.
// RootMessageIDs is derived from the message store when exported.
type Conversation struct {
	ID             ID        `json:"id"`
	Title          string    `json:"title"`
	RootMessageIDs []ID      `json:"rootMessageIds"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Version        uint64    `json:"version"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := *c
	if c.RootMessageIDs != nil {
		ret.RootMessageIDs = append([]ID(nil), c.RootMessageIDs...)
	}
	return &ret
}

// NewConversation returns an unsaved conversation header.
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot is the persisted state of one conversation as exchanged with a
// persistence adapter. Message and branch order carries no meaning.
type Snapshot struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []*Message    `json:"messages"`
	Branches     []*Branch     `json:"branches"`
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	ret := &Snapshot{
		Conversation: s.Conversation.Clone(),
		Messages:     make([]*Message, 0, len(s.Messages)),
		Branches:     make([]*Branch, 0, len(s.Branches)),
	}
	for _, m := range s.Messages {
		ret.Messages = append(ret.Messages, m.Clone())
	}
	for _, b := range s.Branches {
		ret.Branches = append(ret.Branches, b.Clone())
	}
	return ret
}
