package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

const (
	EventMessage        = "message"
	EventUpdateMembers  = "update_members"
	EventHistoryChanged = "history_changed"
	EventResponse       = "response"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join        *Join        `json:"join,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
}

type Join struct {
	Room string `json:"room"`
	User string `json:"user"`
	// Name is accepted as an alias of User.
	Name string `json:"name,omitempty"`
}

func (j *Join) Username() string {
	if j.User != "" {
		return j.User
	}
	return j.Name
}

type SendMessage struct {
	Room     string `json:"room"`
	User     string `json:"user"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func (s *SendMessage) Username() string {
	if s.User != "" {
		return s.User
	}
	return s.Name
}

// Kind defaults to text, as clients that predate media messages omit the type.
func (s *SendMessage) Kind() types.Kind {
	if s.Type == "" {
		return types.KindText
	}
	return types.Kind(s.Type)
}

type Leave struct{}

type ServerMessage struct {
	BaseMessage
	Event        string         `json:"event"`
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Notification struct {
	Room    string         `json:"room"`
	Members []types.Member `json:"members,omitempty"`
}

func NewMessageEvent(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Event:   EventMessage,
		Message: &msg,
	}
}

func NewMembersEvent(room string, members []types.Member) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: types.Now(),
		},
		Event: EventUpdateMembers,
		Notification: &Notification{
			Room:    room,
			Members: members,
		},
	}
}

func NewHistoryChangedEvent(room string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: types.Now(),
		},
		Event:        EventHistoryChanged,
		Notification: &Notification{Room: room},
	}
}

func newResponse(id, code int, errMsg string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: types.Now(),
		},
		Event: EventResponse,
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrInvalidJoinResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "room and user are required")
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessageResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "invalid message format")
}
