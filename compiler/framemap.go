package compiler

import (
	"fmt"

	"github.com/chazu/kiln/vm"
)

// ---------------------------------------------------------------------------
// FrameMap: local slot allocation
// ---------------------------------------------------------------------------

// FrameMap assigns local slots to variables and temporaries. Slots are
// allocated and freed in stack order; long and double values take two
// consecutive slots.
type FrameMap struct {
	entries []frameEntry
	next    int
	max     int
	temps   int
}

type frameEntry struct {
	id   any
	slot int
	t    vm.Type
}

// tempKey identifies an anonymous temporary.
type tempKey struct{ n int }

func (k tempKey) String() string { return fmt.Sprintf("temp#%d", k.n) }

// NewFrameMap creates an empty frame.
func NewFrameMap() *FrameMap {
	return &FrameMap{}
}

// Enter binds id to the next free slot(s) and returns the first.
func (m *FrameMap) Enter(id any, t vm.Type) int {
	slot := m.next
	m.entries = append(m.entries, frameEntry{id: id, slot: slot, t: t})
	m.next += max(t.Size(), 1)
	if m.next > m.max {
		m.max = m.next
	}
	return slot
}

// Leave frees the slot bound to id, which must be the most recent
// allocation, and returns it.
func (m *FrameMap) Leave(id any) int {
	if len(m.entries) == 0 {
		internalf(nil, "frame: leave %v on an empty frame", id)
	}
	top := m.entries[len(m.entries)-1]
	if top.id != id {
		internalf(nil, "frame: leave %v (slot %d) while %v (slot %d) is still held",
			id, m.slotOf(id), top.id, top.slot)
	}
	m.entries = m.entries[:len(m.entries)-1]
	m.next = top.slot
	return top.slot
}

// EnterTemp allocates an anonymous slot for a value of type t.
func (m *FrameMap) EnterTemp(t vm.Type) int {
	m.temps++
	return m.Enter(tempKey{m.temps}, t)
}

// LeaveTemp frees the most recent temporary, which must hold a value of
// the same width as t.
func (m *FrameMap) LeaveTemp(t vm.Type) {
	if len(m.entries) == 0 {
		internalf(nil, "frame: leave temp on an empty frame")
	}
	top := m.entries[len(m.entries)-1]
	if _, ok := top.id.(tempKey); !ok {
		internalf(nil, "frame: leave temp while %v (slot %d) is still held", top.id, top.slot)
	}
	if top.t.Size() != t.Size() {
		internalf(nil, "frame: leave temp of %v, slot %d holds %v", t, top.slot, top.t)
	}
	m.Leave(top.id)
}

// Lookup returns the slot bound to id, searching innermost first.
func (m *FrameMap) Lookup(id any) (int, vm.Type, bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].id == id {
			return m.entries[i].slot, m.entries[i].t, true
		}
	}
	return 0, vm.Type{}, false
}

// Mark returns the current allocation depth for ResetTo.
func (m *FrameMap) Mark() int {
	return len(m.entries)
}

// ResetTo frees every allocation made after mark, innermost first, calling
// leave for each freed entry.
func (m *FrameMap) ResetTo(mark int, leave func(id any, slot int, t vm.Type)) {
	for len(m.entries) > mark {
		top := m.entries[len(m.entries)-1]
		m.Leave(top.id)
		if leave != nil {
			leave(top.id, top.slot, top.t)
		}
	}
}

// Next returns the first free slot.
func (m *FrameMap) Next() int { return m.next }

// Max returns the number of slots the frame needs.
func (m *FrameMap) Max() int { return m.max }

func (m *FrameMap) slotOf(id any) int {
	if slot, _, ok := m.Lookup(id); ok {
		return slot
	}
	return -1
}
