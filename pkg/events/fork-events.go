package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeConversationCreated EventType = "conversation-created"
	EventTypeConversationDeleted EventType = "conversation-deleted"

	EventTypeMessageAdded       EventType = "message-added"
	EventTypeMessageEdited      EventType = "message-edited"
	EventTypeMessageRegenerated EventType = "message-regenerated"
	// a responder produced the text for a reply or regeneration
	EventTypeReplyGenerated EventType = "reply-generated"

	EventTypeBranchForked    EventType = "branch-forked"
	EventTypeBranchActivated EventType = "branch-activated"
	EventTypeBranchRenamed   EventType = "branch-renamed"
	EventTypeBranchDeleted   EventType = "branch-deleted"
	EventTypeVersionSelected EventType = "version-selected"
)

// EventMetadata is attached to every published event.
type EventMetadata struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// Revision is the conversation version after the change was persisted.
	Revision uint64 `json:"revision"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", em.ID.String())
	e.Time("timestamp", em.Timestamp)
	e.Uint64("revision", em.Revision)
}

// Event describes one committed change to a conversation. Which ids are set
// depends on the type: message events carry MessageID, branch events carry
// BranchID, and destructive changes list what was removed.
type Event struct {
	Type_          EventType         `json:"type"`
	ConversationID conversation.ID   `json:"conversationId"`
	MessageID      conversation.ID   `json:"messageId"`
	BranchID       conversation.ID   `json:"branchId"`
	RemovedIDs     []conversation.ID `json:"removedIds,omitempty"`
	Name           string            `json:"name,omitempty"`
	Metadata_      EventMetadata     `json:"meta"`
}

func NewEvent(type_ EventType, conversationID conversation.ID) *Event {
	return &Event{
		Type_:          type_,
		ConversationID: conversationID,
		Metadata_: EventMetadata{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
		},
	}
}

func (e *Event) Type() EventType {
	return e.Type_
}

func (e *Event) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *Event) WithMessage(id conversation.ID) *Event {
	e.MessageID = id
	return e
}

func (e *Event) WithBranch(id conversation.ID) *Event {
	e.BranchID = id
	return e
}

func (e *Event) WithRemoved(ids []conversation.ID) *Event {
	e.RemovedIDs = append([]conversation.ID(nil), ids...)
	return e
}

func (e *Event) WithName(name string) *Event {
	e.Name = name
	return e
}

func (e *Event) WithRevision(revision uint64) *Event {
	e.Metadata_.Revision = revision
	return e
}

func (e *Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Str("conversation_id", e.ConversationID.String())
	if !e.MessageID.IsNull() {
		ev.Str("message_id", e.MessageID.String())
	}
	if !e.BranchID.IsNull() {
		ev.Str("branch_id", e.BranchID.String())
	}
	if len(e.RemovedIDs) > 0 {
		ev.Int("removed", len(e.RemovedIDs))
	}
	ev.Object("meta", e.Metadata_)
}

var knownEventTypes = map[EventType]struct{}{
	EventTypeConversationCreated: {},
	EventTypeConversationDeleted: {},
	EventTypeMessageAdded:        {},
	EventTypeMessageEdited:       {},
	EventTypeMessageRegenerated:  {},
	EventTypeReplyGenerated:      {},
	EventTypeBranchForked:        {},
	EventTypeBranchActivated:     {},
	EventTypeBranchRenamed:       {},
	EventTypeBranchDeleted:       {},
	EventTypeVersionSelected:     {},
}

// NewEventFromJson decodes a payload published by a Publisher.
func NewEventFromJson(b []byte) (*Event, error) {
	var ret Event
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	if _, ok := knownEventTypes[ret.Type_]; !ok {
		return nil, fmt.Errorf("unknown event type: %q", ret.Type_)
	}
	return &ret, nil
}
