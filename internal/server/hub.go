package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-consult/internal/consultation"
	"github.com/npezzotti/go-consult/internal/database"
	"github.com/npezzotti/go-consult/internal/stats"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

const joinAttempts = 3

type Options struct {
	GracePeriod       time.Duration
	DependencyTimeout time.Duration
	MaxTextLength     int
	IceBufferSize     int
	MarkEndedAttempts int
	MarkEndedOnExpiry bool
}

func DefaultOptions() Options {
	return Options{
		GracePeriod:       30 * time.Second,
		DependencyTimeout: 3 * time.Second,
		MaxTextLength:     2000,
		IceBufferSize:     64,
		MarkEndedAttempts: 3,
		MarkEndedOnExpiry: true,
	}
}

// Hub owns the connection registry and the live rooms. Room state itself
// lives in each room's goroutine; the hub only routes to it.
type Hub struct {
	log      zerolog.Logger
	records  consultation.Records
	repo     database.Repository
	stats    stats.StatsProvider
	opts     Options
	registry *Registry
	notifier *Notifier
	chat     *ChatChannel
	notes    *NotesChannel

	roomsLock sync.Mutex
	rooms     map[string]*Room
	stopped   bool
}

func NewHub(logger zerolog.Logger, records consultation.Records, repo database.Repository, su stats.StatsProvider, opts Options) (*Hub, error) {
	if records == nil {
		return nil, errors.New("records collaborator is required")
	}
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if opts.DependencyTimeout <= 0 || opts.MaxTextLength <= 0 || opts.GracePeriod < 0 {
		return nil, fmt.Errorf("invalid hub options: %+v", opts)
	}
	if opts.MarkEndedAttempts < 1 {
		opts.MarkEndedAttempts = 1
	}

	h := &Hub{
		log:      logger.With().Str("module", "hub").Logger(),
		records:  records,
		repo:     repo,
		stats:    su,
		opts:     opts,
		registry: NewRegistry(),
		notifier: NewNotifier(logger),
		rooms:    make(map[string]*Room),
	}
	h.chat = newChatChannel(h)
	h.notes = newNotesChannel(h)

	for _, m := range stats.Metrics {
		su.RegisterMetric(m)
	}
	h.notifier.Subscribe(h.observe)

	return h, nil
}

func (h *Hub) Chat() *ChatChannel { return h.chat }

func (h *Hub) Notes() *NotesChannel { return h.notes }

func (h *Hub) observe(ev Event) {
	switch ev.Kind {
	case EventStateChanged:
		h.log.Info().Str("room", ev.RoomId).Str("from", string(ev.From)).Str("to", string(ev.To)).Msg("room state changed")
		switch ev.To {
		case types.RoomActive:
			h.stats.Incr(stats.CallsStarted)
		case types.RoomEnded:
			h.stats.Incr(stats.CallsEnded)
		}
	case EventSuperseded:
		h.stats.Incr(stats.Supersessions)
	}
}

// Register binds c as the live connection of its identity. A previous
// connection of the same identity is notified, removed from its room and
// closed before Register returns.
func (h *Hub) Register(c *Client) error {
	if h.isStopped() {
		return errHubStopped
	}

	old, added := h.registry.bind(c)
	if !added {
		return nil
	}
	if old == nil {
		h.stats.Incr(stats.Connections)
		h.log.Info().Str("user", c.identity.UserId).Str("sid", c.sid).Msg("connection registered")
		return nil
	}

	h.log.Info().
		Str("user", c.identity.UserId).
		Str("old_sid", old.sid).
		Str("sid", c.sid).
		Msg("connection superseded")

	h.notifier.Publish(Event{
		Kind:       EventSuperseded,
		Subject:    types.Participant{Id: old.identity.UserId, Role: old.identity.Role},
		Recipients: []*Client{old},
	})
	h.leaveCurrentRoom(old)
	old.stopClient(closeSuperseded, "superseded")

	return nil
}

// Unregister is called once the transport of c has closed.
func (h *Hub) Unregister(c *Client) {
	if h.registry.unbind(c) {
		h.stats.Decr(stats.Connections)
		h.log.Info().Str("user", c.identity.UserId).Str("sid", c.sid).Msg("connection unregistered")
	}

	h.leaveCurrentRoom(c)
}

// isLive reports whether c may still act for its identity. A superseded or
// stopped connection can have frames in flight; they must not reach a room.
func (h *Hub) isLive(c *Client) bool {
	if c.stopped() {
		return false
	}

	cur := h.registry.lookup(c.identity.UserId)
	return cur == nil || cur == c
}

func (h *Hub) leaveCurrentRoom(c *Client) {
	r := c.currentRoom()
	if r == nil {
		return
	}

	_, err := r.call(context.Background(), &roomRequest{kind: reqLeave, client: c})
	if err != nil && !errors.Is(err, errRoomClosed) && !errors.Is(err, ErrNotFound) {
		h.log.Warn().Err(err).Str("room", r.id).Str("sid", c.sid).Msg("leave on disconnect failed")
	}
	c.clearRoom(r)
}

// Join authorizes c for the consultation and places it in its room.
func (h *Hub) Join(ctx context.Context, c *Client, msgId int, consultationId string) (types.RoomView, error) {
	if !h.isLive(c) {
		return types.RoomView{}, errStaleConnection
	}

	consultationId = strings.TrimSpace(consultationId)
	if consultationId == "" {
		return types.RoomView{}, validationError("consultationId is required")
	}

	_, participant, err := h.authorize(ctx, c.identity, consultationId)
	if err != nil {
		h.log.Warn().Err(err).Str("user", c.identity.UserId).Str("consultation", consultationId).Msg("join rejected")
		return types.RoomView{}, err
	}

	if cur := c.currentRoom(); cur != nil && cur.id != consultationId {
		if _, err := cur.call(ctx, &roomRequest{kind: reqLeave, client: c, notify: true}); err != nil && !errors.Is(err, errRoomClosed) {
			h.log.Warn().Err(err).Str("room", cur.id).Msg("failed to leave previous room")
		}
		c.clearRoom(cur)
	}

	for range joinAttempts {
		r, err := h.getOrCreateRoom(consultationId)
		if err != nil {
			return types.RoomView{}, err
		}

		rep, err := r.call(ctx, &roomRequest{
			kind:        reqJoin,
			msgId:       msgId,
			client:      c,
			participant: participant,
		})
		if errors.Is(err, errRoomClosed) {
			// lost a race with the room's teardown; the next attempt gets a fresh room
			continue
		}
		if err != nil {
			return types.RoomView{}, err
		}

		return rep.view, nil
	}

	return types.RoomView{}, newError(ErrInternal, "room unavailable", nil)
}

func (h *Hub) Leave(ctx context.Context, c *Client, msgId int, consultationId string) error {
	if !h.isLive(c) {
		return errStaleConnection
	}

	r := c.currentRoom()
	if r == nil || r.id != consultationId {
		return notFoundError("not in this room")
	}

	_, err := r.call(ctx, &roomRequest{kind: reqLeave, msgId: msgId, client: c, notify: true})
	if errors.Is(err, errRoomClosed) {
		return notFoundError("room has ended")
	}

	return err
}

// End terminates the call for both participants. Only the first end of a
// room has any effect.
func (h *Hub) End(ctx context.Context, c *Client, msgId int, consultationId string) error {
	if !h.isLive(c) {
		return errStaleConnection
	}

	if _, _, err := h.authorize(ctx, c.identity, consultationId); err != nil {
		return err
	}

	r := h.lookupRoom(consultationId)
	if r == nil {
		return notFoundError("no call in progress")
	}

	_, err := r.call(ctx, &roomRequest{kind: reqEnd, msgId: msgId, client: c})
	if errors.Is(err, errRoomClosed) {
		// another end won; acknowledge without a second notification
		h.log.Debug().Str("room", consultationId).Str("user", c.identity.UserId).Msg("call already ended")
		c.queueMessage(callEnded(msgId, consultationId))
		return nil
	}

	return err
}

// Relay hands a signaling envelope to the sender's room. Delivery to the peer
// is best effort.
func (h *Hub) Relay(ctx context.Context, c *Client, msgId int, env *SignalEnvelope) error {
	if !h.isLive(c) {
		return errStaleConnection
	}

	r := c.currentRoom()
	if r == nil || r.id != env.RoomId {
		return notFoundError("not in this room")
	}

	env.SenderId = c.identity.UserId
	err := r.submit(ctx, &roomRequest{kind: reqSignal, msgId: msgId, client: c, signal: env})
	if errors.Is(err, errRoomClosed) {
		return notFoundError("room has ended")
	}

	return err
}

// authorize checks id against the participants of the consultation.
func (h *Hub) authorize(ctx context.Context, id types.Identity, consultationId string) (types.Participants, types.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.DependencyTimeout)
	defer cancel()

	participants, err := h.records.Participants(ctx, consultationId)
	if err != nil {
		return types.Participants{}, types.Participant{}, dependencyError(err)
	}

	participant, ok := participants.Member(id)
	if !ok {
		return types.Participants{}, types.Participant{}, ErrForbidden
	}

	return participants, participant, nil
}

func (h *Hub) getOrCreateRoom(id string) (*Room, error) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	if h.stopped {
		return nil, newError(ErrInternal, "server shutting down", errHubStopped)
	}

	if r, ok := h.rooms[id]; ok {
		return r, nil
	}

	r := newRoom(id, h)
	h.rooms[id] = r
	h.stats.Incr(stats.Rooms)
	go r.start()

	return r, nil
}

// releaseRoom forgets r unless a newer room already took its id.
func (h *Hub) releaseRoom(r *Room) {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.stats.Decr(stats.Rooms)
}

func (h *Hub) lookupRoom(id string) *Room {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	return h.rooms[id]
}

func (h *Hub) isStopped() bool {
	h.roomsLock.Lock()
	defer h.roomsLock.Unlock()

	return h.stopped
}

// Shutdown closes every connection and stops every room. Calls in progress
// are not reported to the records service.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.roomsLock.Lock()
	h.stopped = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.roomsLock.Unlock()

	h.log.Info().Int("rooms", len(rooms)).Int("connections", h.registry.Len()).Msg("shutting down")

	for _, c := range h.registry.all() {
		c.stopClient(websocket.CloseGoingAway, "server shutting down")
	}

	for _, r := range rooms {
		r.stop()
	}

	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for room %q: %w", r.id, ctx.Err())
		}
	}

	return nil
}
