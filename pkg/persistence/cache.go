package persistence

import (
	"container/list"
	"context"
	"sync"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

type cacheEntry struct {
	snapshot *conversation.Snapshot
	element  *list.Element
}

// CachedAdapter wraps an Adapter with a capacity-bounded LRU of conversation
// snapshots.
//
// Entries are dropped on every write that goes through the cache, whether it
// succeeded or failed, so a conflict always forces the next load to hit the
// inner adapter. Writes are never served from the cache and keep their
// version checks; a stale read therefore surfaces as a version conflict,
// never as a lost update. Writes made by other processes are not observed
// until the entry is evicted or invalidated.
type CachedAdapter struct {
	inner      Adapter
	cache      map[conversation.ID]cacheEntry
	lruList    *list.List
	maxSize    int
	generation uint64
	mu         sync.Mutex
}

var _ Adapter = (*CachedAdapter)(nil)

// NewCachedAdapter creates the cache; maxSize defaults to 128 snapshots.
func NewCachedAdapter(inner Adapter, maxSize int) *CachedAdapter {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &CachedAdapter{
		inner:   inner,
		cache:   make(map[conversation.ID]cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

func (c *CachedAdapter) LoadConversation(ctx context.Context, id conversation.ID) (*conversation.Snapshot, error) {
	c.mu.Lock()
	if entry, ok := c.cache[id]; ok {
		c.lruList.MoveToFront(entry.element)
		ret := entry.snapshot.Clone()
		c.mu.Unlock()
		return ret, nil
	}
	generation := c.generation
	c.mu.Unlock()

	snapshot, err := c.inner.LoadConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a write raced with the load; do not cache what may be stale
	if generation != c.generation {
		return snapshot, nil
	}
	if _, ok := c.cache[id]; ok {
		return snapshot, nil
	}
	if c.lruList.Len() >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			delete(c.cache, oldest.Value.(conversation.ID))
			c.lruList.Remove(oldest)
		}
	}
	element := c.lruList.PushFront(id)
	c.cache[id] = cacheEntry{snapshot: snapshot.Clone(), element: element}
	return snapshot, nil
}

func (c *CachedAdapter) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	return c.inner.ListConversations(ctx)
}

func (c *CachedAdapter) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	if conv != nil {
		defer c.Invalidate(conv.ID)
	}
	return c.inner.SaveConversation(ctx, conv)
}

func (c *CachedAdapter) SaveMessages(ctx context.Context, msgs []*conversation.Message) error {
	ids := make([]conversation.ID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ConversationID)
	}
	defer c.Invalidate(ids...)
	return c.inner.SaveMessages(ctx, msgs)
}

// DeleteMessages purges the whole cache because ids alone do not say which
// conversation they belonged to.
func (c *CachedAdapter) DeleteMessages(ctx context.Context, ids []conversation.ID) error {
	defer c.Clear()
	return c.inner.DeleteMessages(ctx, ids)
}

func (c *CachedAdapter) SaveBranches(ctx context.Context, branches []*conversation.Branch) error {
	ids := make([]conversation.ID, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ConversationID)
	}
	defer c.Invalidate(ids...)
	return c.inner.SaveBranches(ctx, branches)
}

func (c *CachedAdapter) DeleteBranches(ctx context.Context, ids []conversation.ID) error {
	defer c.Clear()
	return c.inner.DeleteBranches(ctx, ids)
}

func (c *CachedAdapter) DeleteConversation(ctx context.Context, id conversation.ID) error {
	defer c.Invalidate(id)
	return c.inner.DeleteConversation(ctx, id)
}

func (c *CachedAdapter) Apply(ctx context.Context, delta *conversation.Delta) error {
	if delta != nil && delta.Conversation != nil {
		defer c.Invalidate(delta.Conversation.ID)
	}
	return c.inner.Apply(ctx, delta)
}

func (c *CachedAdapter) Close() error {
	c.Clear()
	return c.inner.Close()
}

// Invalidate drops the given conversations from the cache.
func (c *CachedAdapter) Invalidate(ids ...conversation.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, id := range ids {
		if entry, ok := c.cache[id]; ok {
			c.lruList.Remove(entry.element)
			delete(c.cache, id)
		}
	}
}

// Clear removes every cached snapshot.
func (c *CachedAdapter) Clear() {
	c.mu.Lock()
	c.generation++
	c.cache = make(map[conversation.ID]cacheEntry)
	c.lruList.Init()
	c.mu.Unlock()
}

func (c *CachedAdapter) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

func (c *CachedAdapter) MaxSize() int {
	return c.maxSize
}
