package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBind_Unbind(t *testing.T) {
	tbl := NewTable()

	_, ok := tbl.Bind("c1", "alice", "r1")
	assert.False(t, ok, "expected no prior binding")

	b, ok := tbl.Lookup("c1")
	assert.True(t, ok)
	assert.Equal(t, Binding{User: "alice", Room: "r1"}, b)

	prev, ok := tbl.Bind("c1", "alice", "r2")
	assert.True(t, ok, "expected rebinding to report the prior binding")
	assert.Equal(t, Binding{User: "alice", Room: "r1"}, prev)
	assert.Equal(t, 1, tbl.Len(), "expected rebinding not to duplicate the connection")

	b, ok = tbl.Unbind("c1")
	assert.True(t, ok)
	assert.Equal(t, Binding{User: "alice", Room: "r2"}, b)

	_, ok = tbl.Unbind("c1")
	assert.False(t, ok, "expected second unbind to find nothing")
	assert.Equal(t, 0, tbl.Len())
}

func TestUnbindIf(t *testing.T) {
	tbl := NewTable()
	tbl.Bind("c1", "alice", "r2")

	assert.False(t, tbl.UnbindIf("c1", Binding{User: "alice", Room: "r1"}), "expected stale binding not to be removed")
	assert.True(t, tbl.UnbindIf("c1", Binding{User: "alice", Room: "r2"}))
	assert.False(t, tbl.UnbindIf("c1", Binding{User: "alice", Room: "r2"}))
}

func TestUnbind_Once(t *testing.T) {
	tbl := NewTable()
	for i := range 10 {
		tbl.Bind(fmt.Sprintf("c%d", i), "alice", "r1")
	}

	var unbound atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				if _, ok := tbl.Unbind(fmt.Sprintf("c%d", i)); ok {
					unbound.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, unbound.Load(), "expected every binding to be released exactly once")
}
