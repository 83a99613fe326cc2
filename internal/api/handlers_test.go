package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/testutil"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, store database.MessageStore, signingKey []byte) (*RelayApp, *server.ChatServer) {
	t.Helper()

	logger := testutil.TestLogger(t)
	cs := server.NewChatServer(logger, store, nil, server.Options{IdleRoomTimeout: time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cs.Shutdown(ctx)
	})

	cfg := config.Default()
	cfg.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.SigningKey = signingKey

	return NewRelayApp(http.NewServeMux(), logger, cs, cfg), cs
}

func do(t *testing.T, app *RelayApp, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func seed(t *testing.T, store database.MessageStore, room string, texts ...string) []types.Message {
	t.Helper()

	var out []types.Message
	for _, text := range texts {
		msg, err := store.Append(context.Background(), types.Message{Room: room, User: "alice", Type: types.KindText, Text: text})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestHealthz(t *testing.T) {
	t.Run("store reachable", func(t *testing.T) {
		app, _ := newTestApp(t, database.NewMemoryMessageStore(), nil)

		rr := do(t, app, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok","sessions":0}`, rr.Body.String())
	})

	t.Run("store down", func(t *testing.T) {
		store := &database.MockMessageStore{}
		store.On("Ping", mock.Anything).Return(&database.StorageError{Op: "ping", Err: errors.New("refused")})
		defer store.AssertExpectations(t)

		app, _ := newTestApp(t, store, nil)

		rr := do(t, app, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.NotContains(t, rr.Body.String(), "refused", "expected storage details to stay out of the response")
	})
}

func TestListRooms(t *testing.T) {
	store := database.NewMemoryMessageStore()
	seed(t, store, "r2", "hello")
	seed(t, store, "r1", "hi")

	app, cs := newTestApp(t, store, nil)
	c := &wsless{id: "c1"}
	require.NoError(t, cs.Join(context.Background(), c, "empty-room", "alice"))

	rr := do(t, app, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp RoomsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"r1", "r2"}, resp.Rooms)
	assert.Equal(t, []string{"empty-room"}, resp.Known)
}

func TestListRooms_StorageError(t *testing.T) {
	store := &database.MockMessageStore{}
	store.On("ListRooms", mock.Anything).Return(nil, &database.StorageError{Op: "list rooms", Err: errors.New("boom")})
	defer store.AssertExpectations(t)

	app, _ := newTestApp(t, store, nil)

	rr := do(t, app, http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"status_code":500,"message":"internal server error"}`, rr.Body.String())
}

func TestRoomMembersAndMessages(t *testing.T) {
	store := database.NewMemoryMessageStore()
	seeded := seed(t, store, "lobby", "one", "two")

	app, cs := newTestApp(t, store, nil)
	require.NoError(t, cs.Join(context.Background(), &wsless{id: "c1"}, "lobby", "bob"))

	rr := do(t, app, http.MethodGet, "/api/rooms/lobby/members", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var members MembersResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &members))
	assert.Equal(t, "lobby", members.Room)
	assert.Equal(t, []types.Member{{Name: "bob", Online: true}}, members.Members)
	assert.Equal(t, []string{"bob"}, members.Online)

	rr = do(t, app, http.MethodGet, "/healthz", nil)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, rr.Body.String(), "expected bob's binding to be counted")

	rr = do(t, app, http.MethodGet, "/api/rooms/lobby/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var msgs MessagesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, seeded[0].Id, msgs.Messages[0].Id)
	assert.Equal(t, "two", msgs.Messages[1].Text)

	rr = do(t, app, http.MethodGet, "/api/rooms/nowhere/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"room":"nowhere","messages":[]}`, rr.Body.String())
}

func TestModerationRoutes(t *testing.T) {
	ctx := context.Background()

	t.Run("delete message in room", func(t *testing.T) {
		store := database.NewMemoryMessageStore()
		msgs := seed(t, store, "lobby", "one", "two")
		app, cs := newTestApp(t, store, nil)

		rr := do(t, app, http.MethodDelete, "/api/rooms/lobby/messages/"+itoa(msgs[0].Id), nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		history, err := cs.History(ctx, "lobby")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, msgs[1].Id, history[0].Id)
	})

	t.Run("delete absent message", func(t *testing.T) {
		app, _ := newTestApp(t, database.NewMemoryMessageStore(), nil)

		rr := do(t, app, http.MethodDelete, "/api/rooms/lobby/messages/999", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code, "expected deleting an absent id to succeed")
	})

	t.Run("invalid id", func(t *testing.T) {
		app, _ := newTestApp(t, database.NewMemoryMessageStore(), nil)

		for _, path := range []string{"/api/rooms/lobby/messages/abc", "/api/messages/-1", "/api/messages/0"} {
			rr := do(t, app, http.MethodDelete, path, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code, "expected bad request for %s", path)
		}
	})

	t.Run("delete everywhere", func(t *testing.T) {
		store := database.NewMemoryMessageStore()
		msgs := seed(t, store, "r1", "one")
		app, cs := newTestApp(t, store, nil)

		rr := do(t, app, http.MethodDelete, "/api/messages/"+itoa(msgs[0].Id), nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rooms, err := cs.ListRooms(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})

	t.Run("clear room", func(t *testing.T) {
		store := database.NewMemoryMessageStore()
		seed(t, store, "r1", "one")
		seed(t, store, "r2", "two")
		app, cs := newTestApp(t, store, nil)

		rr := do(t, app, http.MethodDelete, "/api/rooms/r1", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rooms, err := cs.ListRooms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"r2"}, rooms)
	})

	t.Run("clear all", func(t *testing.T) {
		store := database.NewMemoryMessageStore()
		seed(t, store, "r1", "one")
		seed(t, store, "r2", "two")
		app, cs := newTestApp(t, store, nil)

		rr := do(t, app, http.MethodDelete, "/api/rooms", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rooms, err := cs.ListRooms(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})

	t.Run("server closed", func(t *testing.T) {
		app, cs := newTestApp(t, database.NewMemoryMessageStore(), nil)
		require.NoError(t, cs.Shutdown(ctx))

		rr := do(t, app, http.MethodDelete, "/api/rooms/r1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestAdminRoutesRequireToken(t *testing.T) {
	key := []byte("test-signing-key")
	app, _ := newTestApp(t, database.NewMemoryMessageStore(), key)

	rr := do(t, app, http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, app, http.MethodDelete, "/api/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := CreateAdminToken(key, "ops", time.Hour)
	require.NoError(t, err)

	rr = do(t, app, http.MethodGet, "/api/rooms", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "expected health check to stay open")
}

func TestServeWs(t *testing.T) {
	app, cs := newTestApp(t, database.NewMemoryMessageStore(), nil)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("join over websocket", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:3000"}})
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{"join": map[string]string{"room": "lobby", "user": "alice"}}))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg server.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, server.EventMessage, msg.Event)

		assert.Eventually(t, func() bool { return len(cs.Members("lobby")) == 1 },
			time.Second, 10*time.Millisecond)
	})
}

// wsless is a subscriber with no connection behind it.
type wsless struct {
	id string
}

func (w *wsless) Id() string { return w.id }

func (w *wsless) Deliver(...*server.ServerMessage) bool { return true }

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
