package database

import (
	"context"
	"slices"
	"sync"

	"github.com/npezzotti/go-relay/internal/types"
)

// MemoryMessageStore keeps messages in process memory. Contents are lost on
// restart.
type MemoryMessageStore struct {
	mu     sync.RWMutex
	rooms  map[string][]types.Message
	lastId int64
	closed bool
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{rooms: make(map[string][]types.Message)}
}

func (s *MemoryMessageStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storageErr("ping", ErrClosed)
	}
	return nil
}

func (s *MemoryMessageStore) Append(_ context.Context, msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Message{}, storageErr("append", ErrClosed)
	}

	msg = stamp(msg)
	s.lastId++
	msg.Id = s.lastId
	s.rooms[msg.Room] = append(s.rooms[msg.Room], msg)

	return msg, nil
}

func (s *MemoryMessageStore) List(_ context.Context, room string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storageErr("list", ErrClosed)
	}

	msgs := make([]types.Message, len(s.rooms[room]))
	copy(msgs, s.rooms[room])
	return msgs, nil
}

func (s *MemoryMessageStore) DeleteByID(_ context.Context, id int64, room string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storageErr("delete message", ErrClosed)
	}

	var affected []string
	for key, msgs := range s.rooms {
		if room != "" && key != room {
			continue
		}

		i := slices.IndexFunc(msgs, func(m types.Message) bool { return m.Id == id })
		if i < 0 {
			continue
		}

		msgs = slices.Delete(msgs, i, i+1)
		if len(msgs) == 0 {
			delete(s.rooms, key)
		} else {
			s.rooms[key] = msgs
		}
		affected = append(affected, key)
	}

	slices.Sort(affected)
	return affected, nil
}

func (s *MemoryMessageStore) ClearRoom(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storageErr("clear room", ErrClosed)
	}

	delete(s.rooms, room)
	return nil
}

func (s *MemoryMessageStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storageErr("clear all", ErrClosed)
	}

	s.rooms = make(map[string][]types.Message)
	return nil
}

func (s *MemoryMessageStore) ListRooms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storageErr("list rooms", ErrClosed)
	}

	rooms := make([]string, 0, len(s.rooms))
	for key, msgs := range s.rooms {
		if len(msgs) > 0 {
			rooms = append(rooms, key)
		}
	}
	slices.Sort(rooms)

	return rooms, nil
}

func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
