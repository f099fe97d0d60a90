package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

type countingReader struct {
	Adapter
	loads int
}

func (c *countingReader) LoadConversation(ctx context.Context, id conversation.ID) (*conversation.Snapshot, error) {
	c.loads++
	return c.Adapter.LoadConversation(ctx, id)
}

func seedConversations(t *testing.T, store Adapter, n int) []conversation.ID {
	t.Helper()
	ids := make([]conversation.ID, 0, n)
	for i := 0; i < n; i++ {
		c := conversation.NewConversation("cached")
		if err := store.SaveConversation(context.Background(), c); err != nil {
			t.Fatalf("SaveConversation failed: %v", err)
		}
		ids = append(ids, c.ID)
	}
	return ids
}

func TestCachedAdapterServesRepeatedLoads(t *testing.T) {
	inner := &countingReader{Adapter: NewInMemoryAdapter()}
	cache := NewCachedAdapter(inner, 2)
	ids := seedConversations(t, cache, 1)

	for i := 0; i < 3; i++ {
		if _, err := cache.LoadConversation(context.Background(), ids[0]); err != nil {
			t.Fatalf("LoadConversation failed: %v", err)
		}
	}
	if inner.loads != 1 {
		t.Fatalf("expected one inner load, got %d", inner.loads)
	}
	if cache.Size() != 1 {
		t.Fatalf("expected cache size 1, got %d", cache.Size())
	}
}

func TestCachedAdapterReturnsCopies(t *testing.T) {
	cache := NewCachedAdapter(NewInMemoryAdapter(), 2)
	ids := seedConversations(t, cache, 1)

	first, err := cache.LoadConversation(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	first.Conversation.Title = "mutated"

	second, err := cache.LoadConversation(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if second.Conversation.Title != "cached" {
		t.Fatalf("cache leaked a caller mutation: %q", second.Conversation.Title)
	}
}

func TestCachedAdapterEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	inner := &countingReader{Adapter: NewInMemoryAdapter()}
	cache := NewCachedAdapter(inner, 2)
	ids := seedConversations(t, cache, 3)

	for _, id := range ids[:2] {
		if _, err := cache.LoadConversation(ctx, id); err != nil {
			t.Fatalf("LoadConversation failed: %v", err)
		}
	}
	// touch the first so the second becomes the eviction candidate
	if _, err := cache.LoadConversation(ctx, ids[0]); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if _, err := cache.LoadConversation(ctx, ids[2]); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if cache.Size() != 2 {
		t.Fatalf("expected cache size 2, got %d", cache.Size())
	}

	inner.loads = 0
	if _, err := cache.LoadConversation(ctx, ids[0]); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if inner.loads != 0 {
		t.Fatalf("recently used entry was evicted")
	}
	if _, err := cache.LoadConversation(ctx, ids[1]); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if inner.loads != 1 {
		t.Fatalf("expected the evicted entry to be reloaded, got %d loads", inner.loads)
	}
}

func TestCachedAdapterInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	cache := NewCachedAdapter(NewInMemoryAdapter(), 4)

	tree, e := buildConversation(t)
	commit(t, ctx, cache, tree)
	if _, err := cache.LoadConversation(ctx, tree.ID()); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}

	leaf := tree.ActivePath().Last()
	added, err := e.AddMessage(tree.ID(), leaf.ID, conversation.RoleAssistant, "fresh")
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	commit(t, ctx, cache, tree)

	snapshot, err := cache.LoadConversation(ctx, tree.ID())
	if err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	found := false
	for _, m := range snapshot.Messages {
		if m.ID == added.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("cache served a snapshot from before the write")
	}
}

func TestCachedAdapterInvalidatesOnConflict(t *testing.T) {
	ctx := context.Background()
	inner := &countingReader{Adapter: NewInMemoryAdapter()}
	cache := NewCachedAdapter(inner, 4)

	tree, _ := buildConversation(t)
	commit(t, ctx, cache, tree)
	if _, err := cache.LoadConversation(ctx, tree.ID()); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}

	stale := tree.Conversation()
	stale.Version = 0
	stale.Title = "stale"
	err := cache.Apply(ctx, &conversation.Delta{Conversation: stale})
	if !errors.Is(err, conversation.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cache.Size() != 0 {
		t.Fatalf("expected the entry to be dropped after a conflict")
	}

	inner.loads = 0
	if _, err := cache.LoadConversation(ctx, tree.ID()); err != nil {
		t.Fatalf("LoadConversation failed: %v", err)
	}
	if inner.loads != 1 {
		t.Fatalf("expected a fresh load after the conflict, got %d", inner.loads)
	}
}

func TestCachedAdapterDefaultSize(t *testing.T) {
	cache := NewCachedAdapter(NewInMemoryAdapter(), 0)
	if cache.MaxSize() != 128 {
		t.Fatalf("expected default max size 128, got %d", cache.MaxSize())
	}
}
