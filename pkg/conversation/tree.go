package conversation

import (
	"github.com/rs/zerolog/log"
)

// Selections maps a parent message id to the child chosen as its active
// version. A parent without an entry shows its newest child.
type Selections map[MessageID]MessageID

func (s Selections) Clone() Selections {
	ret := make(Selections, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// VersionInfo is the 1-based position of a message among its siblings.
type VersionInfo struct {
	Current int `json:"current" yaml:"current"`
	Total   int `json:"total" yaml:"total"`
}

// Tree is the arena of every message known for a session.
//
// Messages are kept in arrival order. Persisted messages are indexed by id,
// and each parent id keeps the ids of its children in the order they were
// indexed, whether or not the parent itself has been seen. Roots are recorded
// as children of NoMessage.
type Tree struct {
	order    []*Message
	nodes    map[MessageID]*Message
	children map[MessageID][]MessageID
}

func NewTree(msgs ...*Message) *Tree {
	ret := &Tree{
		nodes:    make(map[MessageID]*Message),
		children: make(map[MessageID][]MessageID),
	}
	ret.Insert(msgs...)
	return ret
}

// Insert appends messages in arrival order and indexes the persisted ones.
func (t *Tree) Insert(msgs ...*Message) {
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		t.order = append(t.order, msg)
		t.Index(msg)
	}
}

// Index registers a message that already sits in the arena, typically once
// the backend has assigned it an id. Unpersisted messages are ignored.
func (t *Tree) Index(msg *Message) {
	if msg == nil || !msg.ID.IsSet() {
		return
	}
	if existing, ok := t.nodes[msg.ID]; ok {
		if existing != msg {
			log.Debug().Str("message_id", msg.ID.String()).Msg("replacing message with duplicate id")
			t.replace(existing, msg)
		}
		return
	}
	t.nodes[msg.ID] = msg
	t.children[msg.ParentID] = append(t.children[msg.ParentID], msg.ID)
}

func (t *Tree) replace(old, msg *Message) {
	for i, m := range t.order {
		if m == old {
			t.order[i] = msg
		}
	}
	t.nodes[msg.ID] = msg
	if old.ParentID != msg.ParentID {
		t.children[old.ParentID] = removeID(t.children[old.ParentID], msg.ID)
		t.children[msg.ParentID] = append(t.children[msg.ParentID], msg.ID)
	}
}

func removeID(ids []MessageID, id MessageID) []MessageID {
	ret := ids[:0]
	for _, i := range ids {
		if i != id {
			ret = append(ret, i)
		}
	}
	return ret
}

func (t *Tree) Get(id MessageID) (*Message, bool) {
	m, ok := t.nodes[id]
	return m, ok
}

func (t *Tree) Len() int {
	return len(t.order)
}

// Messages returns every message of the arena in arrival order.
func (t *Tree) Messages() Conversation {
	ret := make(Conversation, len(t.order))
	copy(ret, t.order)
	return ret
}

// Children returns the known children of id, oldest first.
func (t *Tree) Children(id MessageID) Conversation {
	ids := t.children[id]
	ret := make(Conversation, 0, len(ids))
	for _, childID := range ids {
		if m, ok := t.nodes[childID]; ok {
			ret = append(ret, m)
		}
	}
	return ret
}

// Siblings returns the messages sharing the parent of id, including id itself.
func (t *Tree) Siblings(id MessageID) Conversation {
	m, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return t.Children(m.ParentID)
}

func (t *Tree) VersionInfo(id MessageID) (VersionInfo, bool) {
	siblings := t.Siblings(id)
	for i, s := range siblings {
		if s.ID == id {
			return VersionInfo{Current: i + 1, Total: len(siblings)}, true
		}
	}
	return VersionInfo{}, false
}

// Thread returns the chain of ancestors of msg, root first, ending with msg.
// The walk stops at a parent that is not in the arena, and at a cycle.
func (t *Tree) Thread(msg *Message) Conversation {
	if msg == nil {
		return nil
	}
	var ret Conversation
	visited := map[*Message]bool{}
	for current := msg; current != nil && !visited[current]; {
		visited[current] = true
		ret = append(ret, current)
		if !current.ParentID.IsSet() {
			break
		}
		parent, ok := t.nodes[current.ParentID]
		if !ok {
			break
		}
		current = parent
	}

	for i, j := 0, len(ret)-1; i < j; i, j = i+1, j-1 {
		ret[i], ret[j] = ret[j], ret[i]
	}
	return ret
}

// ResolvePath computes the active path that passes through target.
// It returns nil if target is not in the arena.
func (t *Tree) ResolvePath(target MessageID, selections Selections) Conversation {
	msg, ok := t.nodes[target]
	if !ok {
		return nil
	}
	return t.ResolveFrom(msg, selections)
}

// ResolveFrom walks up from msg to its root, then down along the selected
// (or newest) children until a leaf. Every parent/child edge of the result
// is recorded in selections.
func (t *Tree) ResolveFrom(msg *Message, selections Selections) Conversation {
	path := t.Thread(msg)
	if len(path) == 0 {
		return nil
	}

	seen := make(map[*Message]bool, len(path))
	for i, m := range path {
		seen[m] = true
		if i > 0 && path[i-1].ID.IsSet() && m.ID.IsSet() {
			selections[path[i-1].ID] = m.ID
		}
	}

	current := path[len(path)-1]
	for current.ID.IsSet() {
		next := t.selectChild(current.ID, selections)
		if next == nil || seen[next] {
			break
		}
		selections[current.ID] = next.ID
		seen[next] = true
		path = append(path, next)
		current = next
	}

	return path
}

func (t *Tree) selectChild(id MessageID, selections Selections) *Message {
	ids := t.children[id]
	if len(ids) == 0 {
		return nil
	}
	if chosen, ok := selections[id]; ok {
		for _, childID := range ids {
			if childID == chosen {
				return t.nodes[chosen]
			}
		}
		log.Trace().
			Str("parent_id", id.String()).
			Str("selected_id", chosen.String()).
			Msg("stale version selection, falling back to newest child")
	}
	return t.nodes[ids[len(ids)-1]]
}
