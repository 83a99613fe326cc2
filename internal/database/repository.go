package database

import (
	"context"

	"github.com/npezzotti/go-relay/internal/types"
)

// MessageStore is the durable, append-ordered message log kept per room.
//
// Implementations must serialize mutations so that concurrent appends never
// overwrite each other, and must return every failure as a *StorageError.
type MessageStore interface {
	Ping(ctx context.Context) error
	// Append assigns msg an id (and a timestamp when unset), persists it after
	// all prior messages of msg.Room and returns the stored copy.
	Append(ctx context.Context, msg types.Message) (types.Message, error)
	// List returns the room's messages in append order.
	List(ctx context.Context, room string) ([]types.Message, error)
	// DeleteByID removes the message with the given id from room, or from
	// every room when room is empty, and returns the rooms that lost a message.
	DeleteByID(ctx context.Context, id int64, room string) ([]string, error)
	ClearRoom(ctx context.Context, room string) error
	ClearAll(ctx context.Context) error
	// ListRooms returns the rooms holding at least one message, sorted.
	ListRooms(ctx context.Context) ([]string, error)
	Close() error
}
