package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/types"
)

type RoomsResponse struct {
	// Rooms have at least one stored message.
	Rooms []string `json:"rooms"`
	// Known rooms have had a member since the process started.
	Known []string `json:"known"`
}

type MembersResponse struct {
	Room    string         `json:"room"`
	Members []types.Member `json:"members"`
	Online  []string       `json:"online"`
}

type MessagesResponse struct {
	Room     string          `json:"room"`
	Messages []types.Message `json:"messages"`
}

func (s *RelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("json encode: %v", err)
	}
}

func (s *RelayApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorf("request failed: %v", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func roomParam(r *http.Request) (string, bool) {
	room := strings.TrimSpace(r.PathValue("room"))
	return room, room != ""
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *RelayApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.cs.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.cs.Sessions()})
}

func (s *RelayApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.cs.ListRooms(r.Context())
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, RoomsResponse{
		Rooms: rooms,
		Known: s.cs.KnownRooms(),
	})
}

func (s *RelayApp) roomMembers(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("room is required"))
		return
	}

	s.writeJson(w, http.StatusOK, MembersResponse{
		Room:    room,
		Members: s.cs.Members(room),
		Online:  s.cs.Online(room),
	})
}

func (s *RelayApp) roomMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("room is required"))
		return
	}

	msgs, err := s.cs.History(r.Context(), room)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.writeJson(w, http.StatusOK, MessagesResponse{
		Room:     room,
		Messages: msgs,
	})
}

func (s *RelayApp) deleteRoomMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("room is required"))
		return
	}

	id, ok := idParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("invalid message id"))
		return
	}

	if err := s.cs.DeleteMessage(r.Context(), id, room); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.auditf(r, "deleted message %d from room %q", id, room)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("invalid message id"))
		return
	}

	if err := s.cs.DeleteMessageEverywhere(r.Context(), id); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.auditf(r, "deleted message %d", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) clearRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(r)
	if !ok {
		s.writeError(w, NewBadRequestError("room is required"))
		return
	}

	if err := s.cs.ClearRoom(r.Context(), room); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.auditf(r, "cleared room %q", room)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) clearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.cs.ClearAll(r.Context()); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	s.auditf(r, "cleared all rooms")
	w.WriteHeader(http.StatusNoContent)
}

func (s *RelayApp) auditf(r *http.Request, format string, args ...any) {
	sub, ok := AdminSubject(r.Context())
	if !ok || sub == "" {
		sub = "anonymous"
	}
	s.log.With("admin", sub).Infof(format, args...)
}

func (s *RelayApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("error upgrading connection: %v", err)
		return
	}

	client := server.NewClient(conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
