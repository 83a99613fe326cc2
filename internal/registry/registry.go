// Package registry tracks room membership: every user that ever joined a room
// and the subset that is online right now.
package registry

import (
	"slices"
	"sync"

	"github.com/npezzotti/go-relay/internal/types"
)

type room struct {
	// members holds all-time members in first-join order.
	members []string
	online  map[string]struct{}
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// MarkOnline adds user to the all-time and online sets of roomKey.
func (reg *Registry) MarkOnline(roomKey, user string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomKey]
	if !ok {
		r = &room{online: make(map[string]struct{})}
		reg.rooms[roomKey] = r
	}

	if !slices.Contains(r.members, user) {
		r.members = append(r.members, user)
	}
	r.online[user] = struct{}{}
}

// MarkOffline removes user from the online set only.
func (reg *Registry) MarkOffline(roomKey, user string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomKey]; ok {
		delete(r.online, user)
	}
}

// Members returns the all-time members of roomKey tagged with their online status.
func (reg *Registry) Members(roomKey string) []types.Member {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomKey]
	if !ok {
		return []types.Member{}
	}

	members := make([]types.Member, len(r.members))
	for i, name := range r.members {
		_, online := r.online[name]
		members[i] = types.Member{Name: name, Online: online}
	}
	return members
}

func (reg *Registry) Online(roomKey string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomKey]
	if !ok {
		return []string{}
	}

	online := make([]string, 0, len(r.online))
	for _, name := range r.members {
		if _, ok := r.online[name]; ok {
			online = append(online, name)
		}
	}
	return online
}

// RoomsKnown returns every room that has had a member, sorted.
func (reg *Registry) RoomsKnown() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	keys := make([]string, 0, len(reg.rooms))
	for k := range reg.rooms {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
