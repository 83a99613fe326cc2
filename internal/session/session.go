// Package session maps live connection ids to the user and room they joined.
package session

import "sync"

type Binding struct {
	User string
	Room string
}

type Table struct {
	mu       sync.Mutex
	bindings map[string]Binding
}

func NewTable() *Table {
	return &Table{bindings: make(map[string]Binding)}
}

// Bind records the binding for connId, replacing any earlier one, and returns
// the binding it replaced.
func (t *Table) Bind(connId, user, room string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.bindings[connId]
	t.bindings[connId] = Binding{User: user, Room: room}
	return prev, ok
}

// Unbind removes and returns the binding for connId. Only the first call for a
// binding reports ok.
func (t *Table) Unbind(connId string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bindings[connId]
	if ok {
		delete(t.bindings, connId)
	}
	return b, ok
}

// UnbindIf removes the binding for connId only when it still equals want.
func (t *Table) UnbindIf(connId string, want Binding) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.bindings[connId]; ok && b == want {
		delete(t.bindings, connId)
		return true
	}
	return false
}

func (t *Table) Lookup(connId string) (Binding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bindings[connId]
	return b, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.bindings)
}
