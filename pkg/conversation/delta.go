package conversation

import (
	"bytes"
	"sort"
)

// Delta is the set of records one or more committed tree operations touched,
// ready to be handed to a persistence adapter.
//
// Saved records carry the version they had when the tree was loaded (0 for
// records that were never stored); the adapter compares that against what it
// holds and stores version+1.
type Delta struct {
	Conversation    *Conversation `json:"conversation"`
	SavedMessages   []*Message    `json:"savedMessages"`
	DeletedMessages []ID          `json:"deletedMessages"`
	SavedBranches   []*Branch     `json:"savedBranches"`
	DeletedBranches []ID          `json:"deletedBranches"`
}

func (d *Delta) IsEmpty() bool {
	return d == nil || (d.Conversation == nil &&
		len(d.SavedMessages) == 0 &&
		len(d.DeletedMessages) == 0 &&
		len(d.SavedBranches) == 0 &&
		len(d.DeletedBranches) == 0)
}

func (d *Delta) Clone() *Delta {
	if d == nil {
		return nil
	}
	ret := &Delta{
		Conversation:    d.Conversation.Clone(),
		DeletedMessages: append([]ID(nil), d.DeletedMessages...),
		DeletedBranches: append([]ID(nil), d.DeletedBranches...),
	}
	for _, m := range d.SavedMessages {
		ret.SavedMessages = append(ret.SavedMessages, m.Clone())
	}
	for _, b := range d.SavedBranches {
		ret.SavedBranches = append(ret.SavedBranches, b.Clone())
	}
	return ret
}

// changeSet tracks dirty ids inside a Tree. A record is either saved or
// deleted, never both.
type changeSet struct {
	conversation    bool
	messages        map[ID]struct{}
	deletedMessages map[ID]struct{}
	branches        map[ID]struct{}
	deletedBranches map[ID]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		messages:        map[ID]struct{}{},
		deletedMessages: map[ID]struct{}{},
		branches:        map[ID]struct{}{},
		deletedBranches: map[ID]struct{}{},
	}
}

func (c *changeSet) saveMessage(id ID) {
	delete(c.deletedMessages, id)
	c.messages[id] = struct{}{}
	c.conversation = true
}

func (c *changeSet) deleteMessage(id ID) {
	delete(c.messages, id)
	c.deletedMessages[id] = struct{}{}
	c.conversation = true
}

func (c *changeSet) saveBranch(id ID) {
	delete(c.deletedBranches, id)
	c.branches[id] = struct{}{}
	c.conversation = true
}

func (c *changeSet) deleteBranch(id ID) {
	delete(c.branches, id)
	c.deletedBranches[id] = struct{}{}
	c.conversation = true
}

func (c *changeSet) isEmpty() bool {
	return !c.conversation &&
		len(c.messages) == 0 && len(c.deletedMessages) == 0 &&
		len(c.branches) == 0 && len(c.deletedBranches) == 0
}

func (c *changeSet) clone() *changeSet {
	ret := newChangeSet()
	ret.conversation = c.conversation
	for id := range c.messages {
		ret.messages[id] = struct{}{}
	}
	for id := range c.deletedMessages {
		ret.deletedMessages[id] = struct{}{}
	}
	for id := range c.branches {
		ret.branches[id] = struct{}{}
	}
	for id := range c.deletedBranches {
		ret.deletedBranches[id] = struct{}{}
	}
	return ret
}

// sortedKeys orders ids by their bytes so deltas are deterministic.
func sortedKeys(set map[ID]struct{}) []ID {
	ret := make([]ID, 0, len(set))
	for id := range set {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool {
		return bytes.Compare(ret[i][:], ret[j][:]) < 0
	})
	return ret
}
