package conversation

import (
	"fmt"
	"time"
)

// Role is the author of a message. It is a closed set: only RoleUser and
// RoleAssistant exist, and the zero Role is invalid.
type Role struct {
	name string
}

var (
	RoleUser      = Role{name: "user"}
	RoleAssistant = Role{name: "assistant"}
)

// ParseRole maps the wire form to a Role and rejects anything else.
func ParseRole(s string) (Role, error) {
	switch s {
	case RoleUser.name:
		return RoleUser, nil
	case RoleAssistant.name:
		return RoleAssistant, nil
	default:
		return Role{}, invalidOp("parse role", "unknown role %q", s)
	}
}

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

func (r Role) String() string {
	if r.name == "" {
		return "<invalid>"
	}
	return r.name
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid role")
	}
	return []byte(r.name), nil
}

func (r *Role) UnmarshalText(data []byte) error {
	parsed, err := ParseRole(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is a single node of the conversation forest.
//
// Children holds ids only. It is maintained by MessageStore on insert and
// remove and is never read from persisted records.
type Message struct {
	ID              ID        `json:"id"`
	ParentID        ID        `json:"parentId"`
	ConversationID  ID        `json:"conversationId"`
	BranchID        ID        `json:"branchId"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Children        []ID      `json:"children"`
	IsEdited        bool      `json:"isEdited"`
	OriginalContent *string   `json:"originalContent"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Version         uint64    `json:"version"`

	// seq is the insertion order inside one MessageStore and breaks
	// CreatedAt ties.
	seq uint64
}

type MessageOption func(*Message)

func WithParentID(parentID ID) MessageOption {
	return func(m *Message) {
		m.ParentID = parentID
	}
}

func WithID(id ID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
		m.UpdatedAt = t
	}
}

func WithBranchID(branchID ID) MessageOption {
	return func(m *Message) {
		m.BranchID = branchID
	}
}

func WithOriginalContent(original string) MessageOption {
	return func(m *Message) {
		m.IsEdited = true
		m.OriginalContent = &original
	}
}

// NewMessage builds a message with a fresh id and the current time.
func NewMessage(conversationID ID, role Role, content string, options ...MessageOption) *Message {
	now := time.Now().UTC()
	ret := &Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *Message) IsRoot() bool {
	return m.ParentID.IsNull()
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	ret := *m
	if m.Children != nil {
		ret.Children = append([]ID(nil), m.Children...)
	}
	if m.OriginalContent != nil {
		original := *m.OriginalContent
		ret.OriginalContent = &original
	}
	return &ret
}

// before reports whether m sorts ahead of other: CreatedAt ascending, then
// insertion sequence.
func (m *Message) before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.seq < other.seq
}

// Thread is an ordered list of messages, typically root to leaf.
type Thread []*Message

// IDs returns the message ids in order.
func (t Thread) IDs() []ID {
	ret := make([]ID, 0, len(t))
	for _, m := range t {
		ret = append(ret, m.ID)
	}
	return ret
}

// Last returns the final message or nil for an empty thread.
func (t Thread) Last() *Message {
	if len(t) == 0 {
		return nil
	}
	return t[len(t)-1]
}
