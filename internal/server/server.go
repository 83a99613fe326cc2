package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/registry"
	"github.com/npezzotti/go-relay/internal/session"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/types"
	"go.uber.org/zap"
)

const (
	defaultIdleRoomTimeout = 5 * time.Second
	defaultClientBuffer    = 256
	mirrorQueueSize        = 1024
	mirrorTimeout          = 2 * time.Second
)

// Subscriber is a connection that can receive room events.
type Subscriber interface {
	Id() string
	// Deliver queues msgs, in order and as one unit, and reports whether they
	// were accepted. It must not block.
	Deliver(msgs ...*ServerMessage) bool
}

// Publisher mirrors room events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

type Options struct {
	IdleRoomTimeout       time.Duration
	PersistSystemMessages bool
	ClientBuffer          int
	Publisher             Publisher
}

type mirrorEvent struct {
	room string
	msg  *ServerMessage
}

type ChatServer struct {
	log      *zap.SugaredLogger
	store    database.MessageStore
	registry *registry.Registry
	sessions *session.Table
	stats    stats.StatsProvider

	idleRoomTimeout       time.Duration
	persistSystemMessages bool
	clientBuffer          int

	publisher  Publisher
	mirrorChan chan mirrorEvent
	mirrorDone chan struct{}

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	rooms       map[string]*Room
	roomsLock   sync.Mutex
	closed      bool
}

func NewChatServer(logger *zap.SugaredLogger, store database.MessageStore, st stats.StatsProvider, opts Options) *ChatServer {
	if st == nil {
		st = nopStats{}
	}
	if opts.IdleRoomTimeout <= 0 {
		opts.IdleRoomTimeout = defaultIdleRoomTimeout
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = defaultClientBuffer
	}

	cs := &ChatServer{
		log:                   logger,
		store:                 store,
		registry:              registry.New(),
		sessions:              session.NewTable(),
		stats:                 st,
		idleRoomTimeout:       opts.IdleRoomTimeout,
		persistSystemMessages: opts.PersistSystemMessages,
		clientBuffer:          opts.ClientBuffer,
		publisher:             opts.Publisher,
		clients:               make(map[*Client]struct{}),
		rooms:                 make(map[string]*Room),
	}

	if cs.publisher != nil {
		cs.mirrorChan = make(chan mirrorEvent, mirrorQueueSize)
		cs.mirrorDone = make(chan struct{})
		go cs.runMirror()
	}

	return cs
}

// Join binds the connection to room as user, leaving any room it was bound to
// before, then replays the room's history to it.
func (cs *ChatServer) Join(ctx context.Context, sub Subscriber, room, user string) error {
	room, user = strings.TrimSpace(room), strings.TrimSpace(user)
	if room == "" || user == "" {
		return ErrInvalidJoin
	}

	binding := session.Binding{User: user, Room: room}
	prev, hadPrev := cs.sessions.Bind(sub.Id(), user, room)
	if hadPrev && prev != binding {
		cs.log.Debugf("connection %q switching from room %q to %q", sub.Id(), prev.Room, room)
		if err := cs.leaveRoom(ctx, sub.Id(), prev); err != nil {
			cs.log.Warnf("implicit leave of room %q: %v", prev.Room, err)
		}
	}

	req := &joinReq{
		ctx:   context.WithoutCancel(ctx),
		sub:   sub,
		user:  user,
		reply: make(chan error, 1),
	}
	if _, err := submit(ctx, cs, room, func(r *Room) chan *joinReq { return r.joinChan }, req); err != nil {
		cs.sessions.UnbindIf(sub.Id(), binding)
		return err
	}

	select {
	case err := <-req.reply:
		if err != nil {
			cs.sessions.UnbindIf(sub.Id(), binding)
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	cs.stats.Incr(stats.Joins)
	return nil
}

// Send validates and stores a message, then broadcasts it to the room. Unknown
// kinds and payloads that do not match their kind are rejected with an error
// wrapping ErrInvalidMessage.
func (cs *ChatServer) Send(ctx context.Context, connId, room, user string, kind types.Kind, text, url string) (types.Message, error) {
	if !kind.Valid() {
		return types.Message{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}

	room, user = strings.TrimSpace(room), strings.TrimSpace(user)
	if room == "" || user == "" {
		return types.Message{}, fmt.Errorf("%w: room and user are required", ErrInvalidMessage)
	}

	msg := types.Message{
		Room:      room,
		User:      user,
		Type:      kind,
		Timestamp: types.Now(),
	}
	if kind.IsMedia() {
		if strings.TrimSpace(url) == "" {
			return types.Message{}, fmt.Errorf("%w: %s requires image_url", ErrInvalidMessage, kind)
		}
		msg.ImageURL = url
	} else {
		if strings.TrimSpace(text) == "" {
			return types.Message{}, fmt.Errorf("%w: text requires message", ErrInvalidMessage)
		}
		msg.Text = text
	}

	req := &publishReq{
		// an accepted message is stored even if the sender goes away
		ctx:   context.WithoutCancel(ctx),
		msg:   msg,
		reply: make(chan publishResult, 1),
	}
	if _, err := submit(ctx, cs, room, func(r *Room) chan *publishReq { return r.publishChan }, req); err != nil {
		return types.Message{}, err
	}

	select {
	case res := <-req.reply:
		if res.err != nil {
			cs.log.Errorf("store message from %q (connection %q) in room %q: %v", user, connId, room, res.err)
		}
		return res.msg, res.err
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

// Leave releases the connection's binding. It is a no-op for unbound connections.
func (cs *ChatServer) Leave(ctx context.Context, connId string) error {
	b, ok := cs.sessions.Unbind(connId)
	if !ok {
		return nil
	}

	return cs.leaveRoom(ctx, connId, b)
}

// Disconnect is called once a connection is gone.
func (cs *ChatServer) Disconnect(ctx context.Context, connId string) error {
	if err := cs.Leave(ctx, connId); err != nil {
		return fmt.Errorf("disconnect %q: %w", connId, err)
	}
	return nil
}

func (cs *ChatServer) leaveRoom(ctx context.Context, connId string, b session.Binding) error {
	req := &leaveReq{
		connId: connId,
		user:   b.User,
		reply:  make(chan struct{}, 1),
	}
	// The binding is already gone, so the leave is handed to the room even
	// after ctx expires. Only the wait is bounded by ctx.
	failed := make(chan error, 1)
	go func() {
		leaveCtx := context.WithoutCancel(ctx)
		if _, err := submit(leaveCtx, cs, b.Room, func(r *Room) chan *leaveReq { return r.leaveChan }, req); err != nil {
			failed <- err
		}
	}()

	select {
	case <-req.reply:
		return nil
	case err := <-failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeleteMessage removes message id from room and notifies the room. An empty
// room deletes the id everywhere.
func (cs *ChatServer) DeleteMessage(ctx context.Context, id int64, room string) error {
	if room == "" {
		return cs.DeleteMessageEverywhere(ctx, id)
	}

	return cs.moderate(ctx, room, &modReq{op: modDelete, id: id})
}

// DeleteMessageEverywhere removes message id from whichever room holds it.
func (cs *ChatServer) DeleteMessageEverywhere(ctx context.Context, id int64) error {
	rooms, err := cs.store.DeleteByID(ctx, id, "")
	if err != nil {
		return err
	}

	for _, room := range rooms {
		cs.notifyHistoryChanged(ctx, room)
	}
	return nil
}

func (cs *ChatServer) ClearRoom(ctx context.Context, room string) error {
	return cs.moderate(ctx, room, &modReq{op: modClear})
}

func (cs *ChatServer) ClearAll(ctx context.Context) error {
	if err := cs.store.ClearAll(ctx); err != nil {
		return err
	}

	for _, room := range cs.liveRooms() {
		cs.notifyHistoryChanged(ctx, room)
	}
	return nil
}

func (cs *ChatServer) moderate(ctx context.Context, room string, req *modReq) error {
	req.ctx = context.WithoutCancel(ctx)
	req.reply = make(chan error, 1)

	if _, err := submit(ctx, cs, room, func(r *Room) chan *modReq { return r.modChan }, req); err != nil {
		return err
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyHistoryChanged tells the room's current subscribers to refresh. Rooms
// without a running processor have nobody to notify.
func (cs *ChatServer) notifyHistoryChanged(ctx context.Context, room string) {
	r := cs.liveRoom(room)
	if r == nil {
		return
	}

	req := &modReq{op: modNotify, ctx: context.WithoutCancel(ctx), reply: make(chan error, 1)}
	select {
	case r.modChan <- req:
		<-req.reply
	case <-r.done:
	case <-ctx.Done():
	}
}

func (cs *ChatServer) ListRooms(ctx context.Context) ([]string, error) {
	return cs.store.ListRooms(ctx)
}

// KnownRooms lists rooms that have had members since the process started.
func (cs *ChatServer) KnownRooms() []string {
	return cs.registry.RoomsKnown()
}

func (cs *ChatServer) Members(room string) []types.Member {
	return cs.registry.Members(room)
}

// Online lists the users of room with at least one live connection.
func (cs *ChatServer) Online(room string) []string {
	return cs.registry.Online(room)
}

// Sessions counts connections currently bound to a room.
func (cs *ChatServer) Sessions() int {
	return cs.sessions.Len()
}

func (cs *ChatServer) History(ctx context.Context, room string) ([]types.Message, error) {
	return cs.store.List(ctx, room)
}

func (cs *ChatServer) Ping(ctx context.Context) error {
	return cs.store.Ping(ctx)
}

// submit hands req to the processor of room key, starting one if needed. If
// the processor exits before accepting, the room is resolved again.
func submit[T any](ctx context.Context, cs *ChatServer, key string, ch func(*Room) chan T, req T) (*Room, error) {
	for {
		r, err := cs.loadRoom(key)
		if err != nil {
			return nil, err
		}

		select {
		case ch(r) <- req:
			return r, nil
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (cs *ChatServer) loadRoom(key string) (*Room, error) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if cs.closed {
		return nil, ErrServerClosed
	}

	if r, ok := cs.rooms[key]; ok {
		return r, nil
	}

	r := newRoom(key, cs)
	cs.rooms[key] = r
	go r.start()

	cs.stats.Incr(stats.ActiveRooms)
	return r, nil
}

func (cs *ChatServer) liveRoom(key string) *Room {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	return cs.rooms[key]
}

func (cs *ChatServer) liveRooms() []string {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	keys := make([]string, 0, len(cs.rooms))
	for k := range cs.rooms {
		keys = append(keys, k)
	}
	return keys
}

// unloadRoom is called from the room's own goroutine once it has been idle.
// It reports false if the room picked up subscribers in the meantime.
func (cs *ChatServer) unloadRoom(r *Room) bool {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if len(r.clients) > 0 {
		return false
	}

	if cur, ok := cs.rooms[r.key]; ok && cur == r {
		delete(cs.rooms, r.key)
		cs.stats.Decr(stats.ActiveRooms)
	}

	cs.log.Debugf("unloaded room %q, current rooms: %d", r.key, len(cs.rooms))
	return true
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ConnectedClients)
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.ConnectedClients)
	}
}

func (cs *ChatServer) mirror(room string, msg *ServerMessage) {
	if cs.mirrorChan == nil {
		return
	}

	select {
	case cs.mirrorChan <- mirrorEvent{room: room, msg: msg}:
	default:
		cs.log.Warnf("mirror queue full, dropping %s event for room %q", msg.Event, room)
	}
}

func (cs *ChatServer) runMirror() {
	defer close(cs.mirrorDone)

	for ev := range cs.mirrorChan {
		payload, err := json.Marshal(ev.msg)
		if err != nil {
			cs.log.Errorf("marshal mirror event: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := cs.publisher.Publish(ctx, ev.room, payload); err != nil {
			cs.log.Warnf("mirror %s event for room %q: %v", ev.msg.Event, ev.room, err)
		}
		cancel()
	}
}

// Shutdown stops every client and room processor. Stored messages and the
// store itself are left to the caller.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.roomsLock.Lock()
	if cs.closed {
		cs.roomsLock.Unlock()
		return nil
	}
	cs.closed = true
	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	cs.roomsLock.Unlock()

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	for _, r := range rooms {
		close(r.exit)
	}

	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for room %q: %w", r.key, ctx.Err())
		}
	}

	if cs.mirrorChan != nil {
		close(cs.mirrorChan)
		select {
		case <-cs.mirrorDone:
		case <-ctx.Done():
			return fmt.Errorf("waiting for mirror: %w", ctx.Err())
		}
	}

	return nil
}

type nopStats struct{}

func (nopStats) Incr(string)           {}
func (nopStats) Decr(string)           {}
func (nopStats) RegisterMetric(string) {}
