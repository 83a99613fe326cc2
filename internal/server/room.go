package server

import (
	"context"
	"time"

	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/types"
	"go.uber.org/zap"
)

type joinReq struct {
	ctx   context.Context
	sub   Subscriber
	user  string
	reply chan error
}

type leaveReq struct {
	connId string
	user   string
	reply  chan struct{}
}

type publishResult struct {
	msg types.Message
	err error
}

type publishReq struct {
	ctx   context.Context
	msg   types.Message
	reply chan publishResult
}

type modOp int

const (
	modNotify modOp = iota
	modDelete
	modClear
)

type modReq struct {
	ctx   context.Context
	op    modOp
	id    int64
	reply chan error
}

// Room serializes every mutation of one room on a single goroutine, which
// gives all subscribers the same event order.
type Room struct {
	key         string
	cs          *ChatServer
	log         *zap.SugaredLogger
	joinChan    chan *joinReq
	leaveChan   chan *leaveReq
	publishChan chan *publishReq
	modChan     chan *modReq
	// clients maps connection id to subscriber
	clients map[string]Subscriber
	// userConns counts each user's connections in the room
	userConns map[string]int
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is closed to make the room stop
	exit chan struct{}
	// done is closed once the room goroutine returns
	done chan struct{}
}

func newRoom(key string, cs *ChatServer) *Room {
	return &Room{
		key:         key,
		cs:          cs,
		log:         cs.log.With("room", key),
		joinChan:    make(chan *joinReq),
		leaveChan:   make(chan *leaveReq),
		publishChan: make(chan *publishReq),
		modChan:     make(chan *modReq),
		clients:     make(map[string]Subscriber),
		userConns:   make(map[string]int),
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug("starting room")
	r.killTimer = time.NewTimer(r.cs.idleRoomTimeout)
	defer func() {
		r.killTimer.Stop()
		close(r.done)
	}()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case pub := <-r.publishChan:
			r.handlePublish(pub)
		case mod := <-r.modChan:
			r.handleModeration(mod)
		case <-r.killTimer.C:
			if r.cs.unloadRoom(r) {
				r.log.Debug("room timed out")
				return
			}
		case <-r.exit:
			r.log.Debugf("room exiting with %d clients", len(r.clients))
			return
		}
	}
}

func (r *Room) handleJoin(join *joinReq) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	// snapshot before the join so the joiner's own notice is not replayed
	history, err := r.cs.store.List(join.ctx, r.key)
	if err != nil {
		r.log.Errorf("load history for %q: %v", join.user, err)
		r.resetKillTimer()
		join.reply <- err
		return
	}

	id := join.sub.Id()
	if _, ok := r.clients[id]; !ok {
		r.userConns[join.user]++
	}
	r.clients[id] = join.sub
	r.cs.registry.MarkOnline(r.key, join.user)

	notice := types.SystemJoinMessage(r.key, join.user)
	if r.cs.persistSystemMessages {
		stored, err := r.cs.store.Append(join.ctx, notice)
		if err != nil {
			r.log.Warnf("store join notice for %q: %v", join.user, err)
		} else {
			notice = stored
		}
	}
	r.broadcast(NewMessageEvent(notice))

	// private catch-up for the joiner only, queued as one batch so a long
	// history cannot overrun the client's buffer
	if len(history) > 0 {
		replay := make([]*ServerMessage, len(history))
		for i, msg := range history {
			replay[i] = NewMessageEvent(msg)
		}
		if !join.sub.Deliver(replay...) {
			r.log.Warnf("dropped replay of %d messages for connection %q", len(history), id)
		}
	}

	r.broadcastMembers()
	r.log.Infof("%q joined on connection %q, replayed %d messages", join.user, id, len(history))
	join.reply <- nil
}

func (r *Room) handleLeave(leave *leaveReq) {
	defer func() { leave.reply <- struct{}{} }()

	if _, ok := r.clients[leave.connId]; !ok {
		r.log.Debugf("connection %q not found in room", leave.connId)
		return
	}

	delete(r.clients, leave.connId)
	r.userConns[leave.user]--
	if r.userConns[leave.user] <= 0 {
		delete(r.userConns, leave.user)
		r.cs.registry.MarkOffline(r.key, leave.user)
	}

	r.broadcastMembers()
	r.log.Infof("%q left on connection %q", leave.user, leave.connId)

	r.resetKillTimer()
}

func (r *Room) handlePublish(pub *publishReq) {
	stored, err := r.cs.store.Append(pub.ctx, pub.msg)
	if err != nil {
		// nothing is broadcast for a message that was not persisted
		pub.reply <- publishResult{err: err}
		return
	}

	r.cs.stats.Incr(stats.MessagesRelayed)
	r.broadcast(NewMessageEvent(stored))
	pub.reply <- publishResult{msg: stored}
}

func (r *Room) handleModeration(mod *modReq) {
	switch mod.op {
	case modDelete:
		rooms, err := r.cs.store.DeleteByID(mod.ctx, mod.id, r.key)
		if err != nil {
			mod.reply <- err
			return
		}
		if len(rooms) == 0 {
			r.log.Debugf("message %d not found", mod.id)
			mod.reply <- nil
			return
		}
	case modClear:
		if err := r.cs.store.ClearRoom(mod.ctx, r.key); err != nil {
			mod.reply <- err
			return
		}
	}

	r.broadcast(NewHistoryChangedEvent(r.key))
	mod.reply <- nil
}

func (r *Room) broadcastMembers() {
	r.broadcast(NewMembersEvent(r.key, r.cs.registry.Members(r.key)))
}

func (r *Room) broadcast(msg *ServerMessage) {
	for id, sub := range r.clients {
		if !sub.Deliver(msg) {
			r.log.Warnf("dropped %s event for connection %q", msg.Event, id)
		}
	}

	r.cs.mirror(r.key, msg)
}

// resetKillTimer starts the idle countdown once the last client is gone.
func (r *Room) resetKillTimer() {
	if len(r.clients) == 0 {
		r.log.Debug("no clients, starting kill timer")
		r.killTimer.Reset(r.cs.idleRoomTimeout)
	}
}
