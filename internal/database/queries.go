package database

import (
	"context"

	"github.com/npezzotti/go-relay/internal/types"
)

const (
	insertMessageQuery = "INSERT INTO messages (room, author, kind, body, media_url, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id"
	listMessagesQuery = "SELECT id, room, author, kind, body, media_url, created_at FROM messages " +
		"WHERE room = $1 ORDER BY id ASC"
	deleteMessageQuery     = "DELETE FROM messages WHERE id = $1 RETURNING room"
	deleteRoomMessageQuery = "DELETE FROM messages WHERE id = $1 AND room = $2 RETURNING room"
	clearRoomQuery         = "DELETE FROM messages WHERE room = $1"
	clearAllQuery          = "DELETE FROM messages"
	listRoomsQuery         = "SELECT DISTINCT room FROM messages ORDER BY room ASC"
)

func (db *PgMessageStore) Ping(ctx context.Context) error {
	return storageErr("ping", db.conn.PingContext(ctx))
}

func (db *PgMessageStore) Append(ctx context.Context, msg types.Message) (types.Message, error) {
	msg = stamp(msg)
	row := db.conn.QueryRowContext(ctx, insertMessageQuery,
		msg.Room,
		msg.User,
		string(msg.Type),
		msg.Text,
		msg.ImageURL,
		msg.Timestamp,
	)

	if err := row.Scan(&msg.Id); err != nil {
		return types.Message{}, storageErr("append", err)
	}

	return msg, nil
}

func (db *PgMessageStore) List(ctx context.Context, room string) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx, listMessagesQuery, room)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	msgs := make([]types.Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.Room,
			&m.Author,
			&m.Kind,
			&m.Body,
			&m.MediaURL,
			&m.CreatedAt,
		); err != nil {
			return nil, storageErr("list", err)
		}

		msgs = append(msgs, m.toType())
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}

	return msgs, nil
}

func (db *PgMessageStore) DeleteByID(ctx context.Context, id int64, room string) ([]string, error) {
	query, args := deleteMessageQuery, []any{id}
	if room != "" {
		query, args = deleteRoomMessageQuery, []any{id, room}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("delete message", err)
	}
	defer rows.Close()

	var affected []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, storageErr("delete message", err)
		}
		affected = append(affected, r)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("delete message", err)
	}

	return affected, nil
}

func (db *PgMessageStore) ClearRoom(ctx context.Context, room string) error {
	_, err := db.conn.ExecContext(ctx, clearRoomQuery, room)
	return storageErr("clear room", err)
}

func (db *PgMessageStore) ClearAll(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, clearAllQuery)
	return storageErr("clear all", err)
}

func (db *PgMessageStore) ListRooms(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, listRoomsQuery)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	defer rows.Close()

	rooms := make([]string, 0)
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, storageErr("list rooms", err)
		}
		rooms = append(rooms, r)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list rooms", err)
	}

	return rooms, nil
}
