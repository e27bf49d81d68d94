package server

import (
	"sync"
	"time"

	"github.com/npezzotti/go-consult/internal/types"
	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventPeerJoined   EventKind = "peer-joined"
	EventPeerLeft     EventKind = "peer-left"
	EventCallEnded    EventKind = "call-ended"
	EventSuperseded   EventKind = "superseded"
	EventStateChanged EventKind = "state-changed"
)

// Event describes a room or registry transition. Recipients are the
// connections that should hear about it; observers see every event.
type Event struct {
	Kind       EventKind
	RoomId     string
	Subject    types.Participant
	Initiator  string
	From       types.RoomState
	To         types.RoomState
	Recipients []*Client
	At         time.Time
}

func (ev Event) messageFor(c *Client) *ServerMessage {
	switch ev.Kind {
	case EventPeerJoined:
		return peerJoined(ev.RoomId, ev.Subject, ev.Initiator == c.identity.UserId)
	case EventPeerLeft:
		return peerLeft(ev.RoomId, ev.Subject.Identity())
	case EventCallEnded:
		return callEnded(0, ev.RoomId)
	case EventSuperseded:
		return supersededMessage()
	}

	return nil
}

// Notifier turns transitions into client notifications. It keeps no state
// besides its observers.
type Notifier struct {
	log       zerolog.Logger
	mu        sync.RWMutex
	observers []func(Event)
}

func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{
		log: logger.With().Str("module", "notifier").Logger(),
	}
}

func (n *Notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

// Publish must be called from the goroutine that owns the transition so that
// notifications keep their order relative to relayed traffic.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = Now()
	}

	for _, c := range ev.Recipients {
		if c == nil {
			continue
		}
		if msg := ev.messageFor(c); msg != nil {
			c.queueMessage(msg)
		}
	}

	n.log.Debug().
		Str("event", string(ev.Kind)).
		Str("room", ev.RoomId).
		Str("subject", ev.Subject.Id).
		Int("recipients", len(ev.Recipients)).
		Msg("published")

	n.mu.RLock()
	observers := n.observers
	n.mu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}
