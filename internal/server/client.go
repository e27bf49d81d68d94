package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait = 10 * time.Second
	sendQueue = 256

	closeSuperseded = 4001
)

type ClientOptions struct {
	ReadLimit int64
	PongWait  time.Duration
	RateLimit float64
	RateBurst int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ReadLimit: 64 * 1024,
		PongWait:  60 * time.Second,
		RateLimit: 20,
		RateBurst: 40,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	def := DefaultClientOptions()
	if o.ReadLimit <= 0 {
		o.ReadLimit = def.ReadLimit
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.RateLimit <= 0 {
		o.RateLimit = def.RateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = def.RateBurst
	}
	return o
}

// Client is one live websocket connection of an authenticated identity.
type Client struct {
	sid      string
	conn     *websocket.Conn
	hub      *Hub
	log      zerolog.Logger
	identity types.Identity
	send     chan *ServerMessage
	opts     ClientOptions
	limiter  *rate.Limiter

	roomLock sync.Mutex
	room     *Room

	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	stopOnce  sync.Once
	closeCode int
	closeText string
}

func NewClient(identity types.Identity, conn *websocket.Conn, h *Hub, logger zerolog.Logger, opts ClientOptions) *Client {
	sid, err := shortid.Generate()
	if err != nil {
		sid = Now().Format("150405.000")
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		sid:      sid,
		conn:     conn,
		hub:      h,
		log:      logger.With().Str("module", "client").Str("user", identity.UserId).Str("sid", sid).Logger(),
		identity: identity,
		send:     make(chan *ServerMessage, sendQueue),
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
	}
}

func (c *Client) Identity() types.Identity { return c.identity }

func (c *Client) Write() {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			c.drain()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}

// drain flushes whatever was queued before the client was stopped.
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.hub.Unregister(c)
		c.stopClient(websocket.CloseNormalClosure, "")
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(c.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		if !c.limiter.Allow() {
			c.queueError(0, ErrRateLimited)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("malformed message")
			c.queueError(0, validationError("malformed message"))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Str("type", msg.Type).Msg("message handler panicked")
			c.queueError(msg.Id, ErrInternal)
		}
	}()

	c.log.Debug().Int("id", msg.Id).Str("type", msg.Type).Msg("received message")

	if err := c.handle(msg); err != nil {
		c.queueError(msg.Id, err)
	}
}

func (c *Client) handle(msg *ClientMessage) error {
	ctx := c.ctx

	if kind, ok := signalKindFor(msg.Type); ok {
		roomId := msg.RoomId
		if roomId == "" {
			roomId = msg.ConsultationId
		}
		if len(msg.Payload) == 0 {
			return validationError("payload is required")
		}
		return c.hub.Relay(ctx, c, msg.Id, &SignalEnvelope{
			RoomId:  roomId,
			Kind:    kind,
			Payload: msg.Payload,
		})
	}

	switch msg.Type {
	case TypeJoinRoom:
		_, err := c.hub.Join(ctx, c, msg.Id, msg.ConsultationId)
		return err
	case TypeLeaveRoom:
		return c.hub.Leave(ctx, c, msg.Id, msg.ConsultationId)
	case TypeEndCall:
		return c.hub.End(ctx, c, msg.Id, msg.ConsultationId)
	case TypeChatMessage:
		m, err := c.hub.chat.Send(ctx, c.identity, msg.ConsultationId, msg.Text)
		if err != nil {
			return err
		}
		c.queueMessage(chatMessage(msg.Id, m))
	case TypeAddNote:
		n, err := c.hub.notes.Add(ctx, c.identity, msg.ConsultationId, msg.Text)
		if err != nil {
			return err
		}
		c.queueMessage(noteAdded(msg.Id, n))
	case TypeFetchChatHistory:
		msgs, err := c.hub.chat.History(ctx, c.identity, msg.ConsultationId, msg.Before, msg.Limit)
		if err != nil {
			return err
		}
		c.queueMessage(chatHistory(msg.Id, msgs))
	case TypeFetchNotes:
		notes, err := c.hub.notes.List(ctx, c.identity, msg.ConsultationId, msg.Before, msg.Limit)
		if err != nil {
			return err
		}
		c.queueMessage(notesList(msg.Id, notes))
	default:
		return validationError("unknown message type")
	}

	return nil
}

// queueMessage never blocks. It reports false when the client is too slow
// and the message was dropped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("send queue full, dropping message")
		return false
	}

	return true
}

func (c *Client) queueError(id int, err error) {
	e := AsError(err)
	if e.Code == CodeInternal {
		c.log.Error().Err(err).Int("id", id).Msg("request failed")
	} else {
		c.log.Debug().Err(err).Int("id", id).Msg("request rejected")
	}
	c.queueMessage(errorMessage(id, e))
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeMessage(msg *ServerMessage) bool {
	bytes, err := c.serializeMessage(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.Type).Msg("failed to serialize message")
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write failed")
		}
		return false
	}

	return true
}

// stopClient makes the write pump flush and close the connection with the
// given close code. Only the first call has any effect.
func (c *Client) stopClient(code int, text string) {
	c.stopOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.cancel()
		close(c.stop)
	})
}

func (c *Client) stopped() bool {
	return c.ctx.Err() != nil
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

// clearRoom detaches c from r unless c has already moved on.
func (c *Client) clearRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	if c.room == r {
		c.room = nil
	}
}

func (c *Client) currentRoom() *Room {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	return c.room
}
