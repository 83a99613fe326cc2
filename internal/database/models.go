package database

import (
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

// Message is the row layout shared by the sqlite and postgres stores. The
// sqlite column is AUTOINCREMENT so ids are never reused after a delete.
type Message struct {
	Id        int64     `gorm:"primaryKey;type:integer PRIMARY KEY AUTOINCREMENT"`
	Room      string    `gorm:"type:text;not null;index:idx_messages_room"`
	Author    string    `gorm:"type:text;not null"`
	Kind      string    `gorm:"type:text;not null"`
	Body      string    `gorm:"type:text;not null;default:''"`
	MediaURL  string    `gorm:"column:media_url;type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Message) TableName() string {
	return "messages"
}

func fromType(msg types.Message) Message {
	return Message{
		Id:        msg.Id,
		Room:      msg.Room,
		Author:    msg.User,
		Kind:      string(msg.Type),
		Body:      msg.Text,
		MediaURL:  msg.ImageURL,
		CreatedAt: msg.Timestamp,
	}
}

func (m Message) toType() types.Message {
	return types.Message{
		Id:        m.Id,
		Room:      m.Room,
		User:      m.Author,
		Type:      types.Kind(m.Kind),
		Text:      m.Body,
		ImageURL:  m.MediaURL,
		Timestamp: m.CreatedAt.UTC(),
	}
}

func stamp(msg types.Message) types.Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = types.Now()
	}
	msg.Id = 0
	return msg
}
