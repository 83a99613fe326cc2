package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessage_Decode(t *testing.T) {
	t.Run("join with name alias", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"id":3,"join":{"room":"lobby","name":"alice"}}`), &msg))

		require.NotNil(t, msg.Join)
		assert.Equal(t, 3, msg.Id)
		assert.Equal(t, "alice", msg.Join.Username())
	})

	t.Run("user wins over name", func(t *testing.T) {
		j := &Join{User: "alice", Name: "ally"}
		assert.Equal(t, "alice", j.Username())
	})

	t.Run("send message defaults to text", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"send_message":{"room":"lobby","user":"bob","message":"hi"}}`), &msg))

		require.NotNil(t, msg.SendMessage)
		assert.Equal(t, types.KindText, msg.SendMessage.Kind())
		assert.Equal(t, "bob", msg.SendMessage.Username())
	})

	t.Run("image message", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal(
			[]byte(`{"send_message":{"room":"lobby","user":"bob","type":"image","image_url":"https://x/y.png"}}`), &msg))

		assert.Equal(t, types.KindImage, msg.SendMessage.Kind())
		assert.Equal(t, "https://x/y.png", msg.SendMessage.ImageURL)
	})

	t.Run("leave", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"leave":{}}`), &msg))
		assert.NotNil(t, msg.Leave)
	})
}

func TestNewMessageEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := NewMessageEvent(types.Message{Id: 9, Room: "lobby", User: "alice", Type: types.KindText, Text: "hi", Timestamp: ts})

	assert.Equal(t, EventMessage, ev.Event)
	assert.Equal(t, ts, ev.Timestamp, "expected event timestamp to match the message")

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": "2024-05-01T12:00:00Z",
		"event": "message",
		"message": {"id": 9, "room": "lobby", "user": "alice", "type": "text", "text": "hi", "timestamp": "2024-05-01T12:00:00Z"}
	}`, string(raw))
}

func TestNewMembersEvent(t *testing.T) {
	ev := NewMembersEvent("lobby", []types.Member{{Name: "alice", Online: true}, {Name: "bob"}})

	assert.Equal(t, EventUpdateMembers, ev.Event)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, "lobby", ev.Notification.Room)
	assert.Len(t, ev.Notification.Members, 2)
	assert.Nil(t, ev.Message)
}

func TestNewHistoryChangedEvent(t *testing.T) {
	ev := NewHistoryChangedEvent("lobby")

	assert.Equal(t, EventHistoryChanged, ev.Event)
	assert.Equal(t, "lobby", ev.Notification.Room)
	assert.Empty(t, ev.Notification.Members)
}

func TestErrorResponses(t *testing.T) {
	tcases := []struct {
		name string
		msg  *ServerMessage
		code int
	}{
		{name: "invalid join", msg: ErrInvalidJoinResponse(1), code: http.StatusBadRequest},
		{name: "internal error", msg: ErrInternalError(1), code: http.StatusInternalServerError},
		{name: "service unavailable", msg: ErrServiceUnavailable(1), code: http.StatusServiceUnavailable},
		{name: "invalid message", msg: ErrInvalidMessageResponse(1), code: http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, EventResponse, tc.msg.Event)
			assert.Equal(t, 1, tc.msg.Id)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode)
			assert.NotEmpty(t, tc.msg.Response.Error)
		})
	}

	assert.Zero(t, ErrInvalidMessageResponse(-1).Id, "expected negative ids to be omitted")
}
