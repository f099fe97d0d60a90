package conversation

import "sort"

// VersionNavigator walks sibling versions: messages that share a parent, a
// role and a conversation. Edited user messages and regenerated assistant
// replies are both served by the same rule.
type VersionNavigator struct {
	store *MessageStore
}

func NewVersionNavigator(store *MessageStore) *VersionNavigator {
	return &VersionNavigator{store: store}
}

// SiblingsOf returns the sibling set of id, including id itself, ordered by
// CreatedAt with ties broken by insertion order.
func (n *VersionNavigator) SiblingsOf(id ID) ([]*Message, error) {
	ids, err := n.siblingIDs(id)
	if err != nil {
		return nil, err
	}
	ret := make([]*Message, 0, len(ids))
	for _, sid := range ids {
		ret = append(ret, n.store.export(n.store.nodes[sid]))
	}
	return ret, nil
}

// PositionOf is the 1-based index of id in its sibling set.
func (n *VersionNavigator) PositionOf(id ID) (int, error) {
	ids, err := n.siblingIDs(id)
	if err != nil {
		return 0, err
	}
	return indexOf(ids, id) + 1, nil
}

// Next returns the following sibling, or nil on the last one.
func (n *VersionNavigator) Next(id ID) (*Message, error) {
	return n.neighbour(id, 1)
}

// Previous returns the preceding sibling, or nil on the first one.
func (n *VersionNavigator) Previous(id ID) (*Message, error) {
	return n.neighbour(id, -1)
}

func (n *VersionNavigator) HasMultipleVersions(id ID) (bool, error) {
	ids, err := n.siblingIDs(id)
	if err != nil {
		return false, err
	}
	return len(ids) > 1, nil
}

// Versions summarises the sibling set of one message.
type Versions struct {
	MessageID  ID         `json:"messageId"`
	Versions   []*Message `json:"versions"`
	Position   int        `json:"position"`
	Total      int        `json:"total"`
	PreviousID ID         `json:"previousId"`
	NextID     ID         `json:"nextId"`
}

func (n *VersionNavigator) Versions(id ID) (*Versions, error) {
	siblings, err := n.SiblingsOf(id)
	if err != nil {
		return nil, err
	}
	ret := &Versions{
		MessageID: id,
		Versions:  siblings,
		Total:     len(siblings),
	}
	for i, m := range siblings {
		if m.ID != id {
			continue
		}
		ret.Position = i + 1
		if i > 0 {
			ret.PreviousID = siblings[i-1].ID
		}
		if i < len(siblings)-1 {
			ret.NextID = siblings[i+1].ID
		}
	}
	return ret, nil
}

func (n *VersionNavigator) neighbour(id ID, step int) (*Message, error) {
	ids, err := n.siblingIDs(id)
	if err != nil {
		return nil, err
	}
	idx := indexOf(ids, id) + step
	if idx < 0 || idx >= len(ids) {
		return nil, nil
	}
	return n.store.export(n.store.nodes[ids[idx]]), nil
}

func (n *VersionNavigator) siblingIDs(id ID) ([]ID, error) {
	m, ok := n.store.get(id)
	if !ok {
		return nil, notFound("message", id)
	}
	candidates := n.store.roots
	if !m.IsRoot() {
		parent, ok := n.store.get(m.ParentID)
		if !ok {
			return nil, notFound("parent message", m.ParentID)
		}
		candidates = parent.Children
	}

	var ret []ID
	for _, cid := range candidates {
		c := n.store.nodes[cid]
		if c.Role == m.Role && c.ConversationID == m.ConversationID {
			ret = append(ret, cid)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return n.store.nodes[ret[i]].before(n.store.nodes[ret[j]])
	})
	return ret, nil
}
