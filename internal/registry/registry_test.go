package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestMarkOnline_MarkOffline(t *testing.T) {
	reg := New()

	reg.MarkOnline("r1", "alice")
	reg.MarkOnline("r1", "bob")
	reg.MarkOnline("r1", "alice") // idempotent

	assert.Equal(t, []types.Member{
		{Name: "alice", Online: true},
		{Name: "bob", Online: true},
	}, reg.Members("r1"))

	reg.MarkOffline("r1", "alice")
	reg.MarkOffline("r1", "alice")   // idempotent
	reg.MarkOffline("r1", "charlie") // never joined
	reg.MarkOffline("r9", "alice")   // unknown room

	assert.Equal(t, []types.Member{
		{Name: "alice", Online: false},
		{Name: "bob", Online: true},
	}, reg.Members("r1"), "expected alice to stay an all-time member")
	assert.Equal(t, []string{"bob"}, reg.Online("r1"))

	// rejoining restores online status without a duplicate entry
	reg.MarkOnline("r1", "alice")
	assert.Equal(t, []types.Member{
		{Name: "alice", Online: true},
		{Name: "bob", Online: true},
	}, reg.Members("r1"))
}

func TestMembers_UnknownRoom(t *testing.T) {
	reg := New()
	assert.Empty(t, reg.Members("nope"))
	assert.NotNil(t, reg.Members("nope"), "expected an empty, non-nil slice for json encoding")
	assert.Empty(t, reg.Online("nope"))
}

func TestRoomsKnown(t *testing.T) {
	reg := New()
	reg.MarkOnline("b", "alice")
	reg.MarkOnline("a", "alice")
	reg.MarkOffline("b", "alice")

	assert.Equal(t, []string{"a", "b"}, reg.RoomsKnown(), "expected rooms to be known independent of online status")
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := New()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			reg.MarkOnline("r1", user)
			reg.Members("r1")
			reg.MarkOffline("r1", user)
			reg.MarkOnline("r1", user)
		}(i)
	}
	wg.Wait()

	members := reg.Members("r1")
	assert.Len(t, members, 20)
	for _, m := range members {
		assert.True(t, m.Online, "expected %s to be online", m.Name)
	}
}
