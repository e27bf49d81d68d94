package server

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-consult/internal/consultation"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

const (
	roomInboxSize    = 256
	markEndedBackoff = 200 * time.Millisecond

	reasonEnded     = "ended"
	reasonAbandoned = "abandoned"
)

type reqKind int

const (
	reqJoin reqKind = iota
	reqLeave
	reqEnd
	reqSignal
)

type roomRequest struct {
	kind   reqKind
	msgId  int
	client *Client
	// notify acknowledges the request to client; false for leaves caused by a
	// closed or superseded transport
	notify      bool
	participant types.Participant
	signal      *SignalEnvelope
	reply       chan roomReply
}

func (req *roomRequest) respond(rep roomReply) {
	if req.reply == nil {
		return
	}

	select {
	case req.reply <- rep:
	default:
	}
}

type roomReply struct {
	view types.RoomView
	err  error
}

type member struct {
	participant types.Participant
	client      *Client
	joinedAt    time.Time
}

// Room coordinates the two participants of one consultation. All state is
// owned by the goroutine running start; everything else talks to it through
// the inbox, which keeps requests from one sender in order.
type Room struct {
	id        string
	hub       *Hub
	log       zerolog.Logger
	inbox     chan *roomRequest
	members   map[string]*member
	state     types.RoomState
	createdAt time.Time
	startedAt *time.Time
	initiator string
	signals   *signalState
	// graceTimer releases the room once it has been empty for the grace period
	graceTimer *time.Timer
	exit       chan struct{}
	exitOnce   sync.Once
	done       chan struct{}
}

func newRoom(id string, h *Hub) *Room {
	return &Room{
		id:        id,
		hub:       h,
		log:       h.log.With().Str("module", "room").Str("room", id).Logger(),
		inbox:     make(chan *roomRequest, roomInboxSize),
		members:   make(map[string]*member),
		state:     types.RoomEmpty,
		createdAt: Now(),
		signals:   newSignalState(h.opts.IceBufferSize),
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Info().Msg("starting room")
	r.graceTimer = time.NewTimer(r.hub.opts.GracePeriod)
	r.graceTimer.Stop()

	defer func() {
		r.graceTimer.Stop()
		r.hub.releaseRoom(r)
		r.log.Info().Str("state", string(r.state)).Msg("room exited")
		close(r.done)
	}()

	for {
		select {
		case req := <-r.inbox:
			if r.handle(req) {
				return
			}
		case <-r.graceTimer.C:
			if r.handleGraceExpired() {
				return
			}
		case <-r.exit:
			r.handleShutdown()
			return
		}
	}
}

// stop asks the actor to exit without ending the call.
func (r *Room) stop() {
	r.exitOnce.Do(func() { close(r.exit) })
}

func (r *Room) submit(ctx context.Context, req *roomRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case r.inbox <- req:
		return nil
	case <-r.done:
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) call(ctx context.Context, req *roomRequest) (roomReply, error) {
	req.reply = make(chan roomReply, 1)
	if err := r.submit(ctx, req); err != nil {
		return roomReply{}, err
	}

	// once queued the request will be applied, so the outcome is awaited
	// even if ctx ends; the actor answers or exits
	select {
	case rep := <-req.reply:
		return rep, rep.err
	case <-r.done:
		// the actor may have answered right before exiting
		select {
		case rep := <-req.reply:
			return rep, rep.err
		default:
			return roomReply{}, errRoomClosed
		}
	}
}

// handle processes one request and reports whether the room has ended.
func (r *Room) handle(req *roomRequest) (ended bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("room request panicked")
			req.respond(roomReply{err: ErrInternal})
		}
	}()

	switch req.kind {
	case reqJoin:
		r.handleJoin(req)
	case reqLeave:
		r.handleLeave(req)
	case reqEnd:
		return r.handleEnd(req)
	case reqSignal:
		r.handleSignal(req)
	}

	return false
}

func (r *Room) handleJoin(req *roomRequest) {
	c := req.client
	uid := req.participant.Id

	// the registry may have moved on since the request was routed
	if !r.hub.isLive(c) {
		r.log.Info().Str("user", uid).Str("sid", c.sid).Msg("ignoring join from stale connection")
		req.respond(roomReply{err: errStaleConnection})
		return
	}

	if m, ok := r.members[uid]; ok {
		if m.client == c {
			// repeated join on the same connection
			view := r.view()
			c.queueMessage(joinedRoom(req.msgId, view, r.initiator == uid))
			req.respond(roomReply{view: view})
			return
		}

		// the identity reconnected before its old slot was released
		r.log.Info().Str("user", uid).Str("old_sid", m.client.sid).Str("sid", c.sid).Msg("replacing member connection")
		m.client.clearRoom(r)
		m.client = c
		m.participant = req.participant
		m.joinedAt = Now()
		c.setRoom(r)
		r.signals.reset()

		peer := r.peerOf(uid)
		if peer != nil {
			r.initiator = uid
		}

		view := r.view()
		c.queueMessage(joinedRoom(req.msgId, view, r.initiator == uid))
		if peer != nil {
			r.hub.notifier.Publish(Event{
				Kind:       EventPeerJoined,
				RoomId:     r.id,
				Subject:    req.participant,
				Initiator:  r.initiator,
				Recipients: []*Client{peer.client},
			})
		}
		req.respond(roomReply{view: view})
		return
	}

	if len(r.members) >= 2 {
		r.log.Warn().Str("user", uid).Msg("room full")
		req.respond(roomReply{err: ErrRoomFull})
		return
	}

	r.graceTimer.Stop()

	r.members[uid] = &member{
		participant: req.participant,
		client:      c,
		joinedAt:    Now(),
	}
	c.setRoom(r)
	r.signals.reset()

	prev := r.state
	peer := r.peerOf(uid)
	if peer == nil {
		r.state = types.RoomWaiting
		r.initiator = ""
	} else {
		r.state = types.RoomActive
		// the second joiner makes the offer
		r.initiator = uid
		if r.startedAt == nil {
			now := Now()
			r.startedAt = &now
		}
	}

	r.log.Info().Str("user", uid).Str("sid", c.sid).Str("state", string(r.state)).Msg("member joined")

	view := r.view()
	c.queueMessage(joinedRoom(req.msgId, view, r.initiator == uid))
	if peer != nil {
		r.hub.notifier.Publish(Event{
			Kind:       EventPeerJoined,
			RoomId:     r.id,
			Subject:    req.participant,
			Initiator:  r.initiator,
			Recipients: []*Client{peer.client},
		})
	}
	r.transition(prev)
	req.respond(roomReply{view: view})
}

func (r *Room) handleLeave(req *roomRequest) {
	c := req.client
	uid := c.identity.UserId

	m, ok := r.members[uid]
	if !ok || m.client != c {
		req.respond(roomReply{err: notFoundError("not a member of this room")})
		return
	}

	delete(r.members, uid)
	c.clearRoom(r)
	r.signals.reset()

	r.log.Info().Str("user", uid).Str("sid", c.sid).Bool("explicit", req.notify).Msg("member left")

	if req.notify {
		c.queueMessage(leftRoom(req.msgId, r.id))
	}

	prev := r.state
	if peer := r.peerOf(uid); peer != nil {
		r.state = types.RoomWaiting
		r.initiator = ""
		r.hub.notifier.Publish(Event{
			Kind:       EventPeerLeft,
			RoomId:     r.id,
			Subject:    m.participant,
			Recipients: []*Client{peer.client},
		})
	} else {
		r.state = types.RoomEmpty
		r.initiator = ""
		r.log.Info().Dur("grace", r.hub.opts.GracePeriod).Msg("room empty, starting grace timer")
		r.graceTimer.Reset(r.hub.opts.GracePeriod)
	}

	r.transition(prev)
	req.respond(roomReply{view: r.view()})
}

func (r *Room) handleEnd(req *roomRequest) bool {
	if r.state == types.RoomEnded {
		req.respond(roomReply{view: r.view()})
		return true
	}

	var endedBy string
	if req.client != nil {
		endedBy = req.client.identity.UserId
		req.client.queueMessage(callEnded(req.msgId, r.id))
	}

	recipients := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m.client != req.client {
			recipients = append(recipients, m.client)
		}
	}

	prev := r.state
	r.state = types.RoomEnded
	r.graceTimer.Stop()

	r.log.Info().Str("user", endedBy).Msg("call ended")

	r.hub.notifier.Publish(Event{
		Kind:       EventCallEnded,
		RoomId:     r.id,
		Recipients: recipients,
	})

	for uid, m := range r.members {
		m.client.clearRoom(r)
		delete(r.members, uid)
	}
	r.signals.reset()
	r.transition(prev)

	// the records service learns about the end even when nobody else was here
	if err := r.markEnded(endedBy, reasonEnded); err != nil {
		r.log.Error().Err(err).Msg("failed to mark consultation ended")
	}

	req.respond(roomReply{view: r.view()})
	return true
}

func (r *Room) handleGraceExpired() bool {
	if len(r.members) > 0 {
		return false
	}

	r.log.Info().Msg("grace period expired")

	prev := r.state
	r.state = types.RoomEnded
	r.transition(prev)

	if r.startedAt != nil && r.hub.opts.MarkEndedOnExpiry {
		if err := r.markEnded("", reasonAbandoned); err != nil {
			r.log.Error().Err(err).Msg("failed to mark abandoned consultation ended")
		}
	}

	return true
}

func (r *Room) handleShutdown() {
	r.log.Info().Int("members", len(r.members)).Msg("room shutting down")
	for uid, m := range r.members {
		m.client.clearRoom(r)
		delete(r.members, uid)
	}
}

func (r *Room) markEnded(endedBy, reason string) error {
	summary := types.CallSummary{
		EndedBy:   endedBy,
		Reason:    reason,
		StartedAt: r.startedAt,
		EndedAt:   Now(),
	}

	var err error
	for attempt := 1; attempt <= r.hub.opts.MarkEndedAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.hub.opts.DependencyTimeout)
		err = r.hub.records.MarkEnded(ctx, r.id, summary)
		cancel()
		if err == nil {
			return nil
		}

		r.log.Warn().Err(err).Int("attempt", attempt).Msg("mark ended failed")
		if errors.Is(err, consultation.ErrNotFound) {
			return err
		}

		if attempt < r.hub.opts.MarkEndedAttempts {
			time.Sleep(markEndedBackoff * time.Duration(attempt))
		}
	}

	return err
}

func (r *Room) transition(prev types.RoomState) {
	if prev == r.state {
		return
	}

	r.hub.notifier.Publish(Event{
		Kind:   EventStateChanged,
		RoomId: r.id,
		From:   prev,
		To:     r.state,
	})
}

func (r *Room) peerOf(userId string) *member {
	for uid, m := range r.members {
		if uid != userId {
			return m
		}
	}

	return nil
}

func (r *Room) view() types.RoomView {
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b *member) int {
		return a.joinedAt.Compare(b.joinedAt)
	})

	participants := make([]types.Participant, len(members))
	for i, m := range members {
		participants[i] = m.participant
	}

	return types.RoomView{
		RoomId:    r.id,
		State:     r.state,
		Members:   participants,
		Initiator: r.initiator,
		CreatedAt: r.createdAt,
	}
}
