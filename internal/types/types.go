package types

import (
	"time"
)

// SystemUser is the author of membership notices.
const SystemUser = "System"

// Kind is the type of content a message carries.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindSticker  Kind = "sticker"
	KindDocument Kind = "document"
)

// Valid reports whether k is one of the known message kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindSticker, KindDocument:
		return true
	}
	return false
}

// IsMedia reports whether messages of kind k carry a reference URL instead of a body.
func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindSticker || k == KindDocument
}

type Message struct {
	Id        int64     `json:"id,omitempty"`
	Room      string    `json:"room"`
	User      string    `json:"user"`
	Type      Kind      `json:"type"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Member struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// SystemJoinMessage builds the notice broadcast when user joins room.
func SystemJoinMessage(room, user string) Message {
	return Message{
		Room:      room,
		User:      SystemUser,
		Type:      KindText,
		Text:      user + " joined the room.",
		Timestamp: Now(),
	}
}

// Now returns the current time in UTC rounded to the millisecond.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
