package persistence

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

// Reader loads stored conversations.
type Reader interface {
	// LoadConversation returns every message and branch of a conversation in
	// no particular order. It fails with conversation.ErrNotFound when the
	// conversation is not stored.
	LoadConversation(ctx context.Context, id conversation.ID) (*conversation.Snapshot, error)
	ListConversations(ctx context.Context) ([]*conversation.Conversation, error)
}

// Writer stores records with optimistic concurrency.
//
// Every saved record carries the version the caller loaded (0 for a record
// that was never stored). A save fails with a *conversation.VersionConflictError
// when the stored version differs. Re-saving a record whose stored copy is
// exactly one version ahead and otherwise identical is a no-op, which makes
// saves idempotent. Deletes are idempotent and never conflict.
type Writer interface {
	SaveConversation(ctx context.Context, c *conversation.Conversation) error
	SaveMessages(ctx context.Context, msgs []*conversation.Message) error
	DeleteMessages(ctx context.Context, ids []conversation.ID) error
	SaveBranches(ctx context.Context, branches []*conversation.Branch) error
	DeleteBranches(ctx context.Context, ids []conversation.ID) error
	// DeleteConversation removes a conversation with all of its records.
	DeleteConversation(ctx context.Context, id conversation.ID) error
	// Apply stores a tree delta atomically: either every record is written
	// or none is. The conversation header is version-checked like any other
	// record, which serialises writers of the same conversation.
	Apply(ctx context.Context, delta *conversation.Delta) error
	Close() error
}

// Adapter is the persistence contract consumed by the chat service.
type Adapter interface {
	Reader
	Writer
}

// SaveConversationSnapshot stores a whole snapshot as one delta.
func SaveConversationSnapshot(ctx context.Context, w Writer, snapshot *conversation.Snapshot) error {
	if snapshot == nil || snapshot.Conversation == nil {
		return &conversation.InvalidOperationError{Op: "save snapshot", Reason: "snapshot has no conversation"}
	}
	return w.Apply(ctx, &conversation.Delta{
		Conversation:  snapshot.Conversation,
		SavedMessages: snapshot.Messages,
		SavedBranches: snapshot.Branches,
	})
}

// LoadTree loads a conversation and materialises it as a tree.
func LoadTree(ctx context.Context, r Reader, id conversation.ID) (*conversation.Tree, error) {
	snapshot, err := r.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return conversation.LoadTree(snapshot)
}

// versionCheck decides what to do with one incoming record: write it, skip
// it as an idempotent replay, or fail.
func versionCheck(resource string, id conversation.ID, stored *uint64, incoming uint64, identical func() bool) (skip bool, err error) {
	actual := uint64(0)
	if stored != nil {
		actual = *stored
	}
	if actual == incoming {
		return false, nil
	}
	if stored != nil && actual == incoming+1 && identical() {
		return true, nil
	}
	return false, &conversation.VersionConflictError{
		Resource: resource,
		ID:       id,
		Expected: incoming,
		Actual:   actual,
	}
}

func sameMessage(a, b *conversation.Message) bool {
	if a.ID != b.ID || a.ParentID != b.ParentID || a.ConversationID != b.ConversationID ||
		a.BranchID != b.BranchID || a.Role != b.Role || a.Content != b.Content ||
		a.IsEdited != b.IsEdited || !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if (a.OriginalContent == nil) != (b.OriginalContent == nil) {
		return false
	}
	return a.OriginalContent == nil || *a.OriginalContent == *b.OriginalContent
}

func sameBranch(a, b *conversation.Branch) bool {
	return a.ID == b.ID && a.ConversationID == b.ConversationID &&
		a.RootMessageID == b.RootMessageID && a.ParentBranchID == b.ParentBranchID &&
		a.HeadMessageID == b.HeadMessageID && a.Name == b.Name && a.IsActive == b.IsActive && a.CreatedAt.Equal(b.CreatedAt)
}

func sameConversation(a, b *conversation.Conversation) bool {
	if a.ID != b.ID || a.Title != b.Title || !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if len(a.RootMessageIDs) != len(b.RootMessageIDs) {
		return false
	}
	for i := range a.RootMessageIDs {
		if a.RootMessageIDs[i] != b.RootMessageIDs[i] {
			return false
		}
	}
	return true
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &conversation.PersistenceError{Op: op, Err: err}
}
