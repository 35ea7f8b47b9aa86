package observe

import (
	"cmp"
	"slices"
	"sync"
)

// NodeID is a node's slot index in a Scope.
type NodeID int

// NoNode is the NodeID of nodes created outside a scope, and the parent of
// root nodes inside one.
const NoNode NodeID = -1

type closable interface {
	Close(reason CloseReason) bool
}

type scopeSlot struct {
	node   closable
	parent NodeID
	// gen orders slots by creation, since freed slots are reused.
	gen uint64
}

// Scope is an arena of the nodes created for one owner, such as a client
// session. Nodes are stored by slot index; a derived node records the slot
// of its source rather than a second reference, so the scope never keeps
// one node alive on behalf of another. Closing a node frees its slot for the
// next node created in the scope.
//
// Close tears down every node still open in the scope, newest first.
type Scope struct {
	name string

	mu     sync.Mutex
	slots  []scopeSlot
	free   []NodeID
	gen    uint64
	live   int
	closed bool
	reason CloseReason
}

// NewScope creates an empty scope.
func NewScope(name string) *Scope {
	return &Scope{name: name}
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// adopt stores n in a new slot. It reports false with the scope's close
// reason if the scope is already closed.
func (s *Scope) adopt(n closable, parent NodeID) (NodeID, CloseReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NoNode, s.reason, false
	}
	s.gen++
	s.live++
	slot := scopeSlot{node: n, parent: parent, gen: s.gen}
	if k := len(s.free); k > 0 {
		id := s.free[k-1]
		s.free = s.free[:k-1]
		s.slots[id] = slot
		return id, CloseReason{}, true
	}
	s.slots = append(s.slots, slot)
	return NodeID(len(s.slots) - 1), CloseReason{}, true
}

func (s *Scope) release(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || int(id) >= len(s.slots) || s.slots[id].node == nil {
		return
	}
	s.slots[id] = scopeSlot{parent: NoNode}
	s.live--
	if !s.closed {
		s.free = append(s.free, id)
	}
}

// Len returns the number of open nodes in the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Parent returns the slot of the node id was derived from. It reports false
// for root nodes and for ids that are unknown or no longer in use.
func (s *Scope) Parent(id NodeID) (NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || int(id) >= len(s.slots) || s.slots[id].node == nil {
		return NoNode, false
	}
	p := s.slots[id].parent
	return p, p != NoNode
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes every open node in the scope, newest first, and rejects
// nodes created in the scope afterwards. It returns the number of nodes
// this call closed; nodes closed by cascade from an earlier one count too.
func (s *Scope) Close(reason CloseReason) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	s.reason = reason
	open := make([]scopeSlot, 0, s.live)
	for _, slot := range s.slots {
		if slot.node != nil {
			open = append(open, slot)
		}
	}
	slices.SortFunc(open, func(a, b scopeSlot) int {
		return cmp.Compare(b.gen, a.gen)
	})
	before := s.live
	s.mu.Unlock()

	for _, slot := range open {
		slot.node.Close(reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	closed := before - s.live
	s.slots = nil
	s.free = nil
	s.live = 0
	return closed
}
