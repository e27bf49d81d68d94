package server

import "github.com/npezzotti/go-consult/internal/stats"

// signalState is the relay bookkeeping of a room. ICE candidates are useless
// to a peer that has not yet applied the sender's description, so they are
// held until the sender's offer or answer has gone out.
type signalState struct {
	limit      int
	described  map[string]bool
	pendingIce map[string][]*SignalEnvelope
}

func newSignalState(limit int) *signalState {
	s := &signalState{limit: limit}
	s.reset()
	return s
}

// reset drops all negotiation progress. Any membership change means a fresh
// negotiation.
func (s *signalState) reset() {
	s.described = make(map[string]bool)
	s.pendingIce = make(map[string][]*SignalEnvelope)
}

func (s *signalState) buffer(env *SignalEnvelope) bool {
	if len(s.pendingIce[env.SenderId]) >= s.limit {
		return false
	}

	s.pendingIce[env.SenderId] = append(s.pendingIce[env.SenderId], env)
	return true
}

func (s *signalState) take(senderId string) []*SignalEnvelope {
	pending := s.pendingIce[senderId]
	delete(s.pendingIce, senderId)
	return pending
}

func (r *Room) handleSignal(req *roomRequest) {
	env := req.signal
	if !r.hub.isLive(req.client) {
		r.log.Debug().Str("from", env.SenderId).Str("sid", req.client.sid).Msg("dropping signal from stale connection")
		return
	}

	sender, ok := r.members[env.SenderId]
	if !ok || sender.client != req.client {
		req.client.queueError(req.msgId, notFoundError("not a member of this room"))
		return
	}

	peer := r.peerOf(env.SenderId)

	switch env.Kind {
	case SignalOffer, SignalAnswer:
		if peer == nil {
			r.log.Debug().Str("from", env.SenderId).Str("kind", string(env.Kind)).Msg("peer offline, dropping signal")
			return
		}

		r.forward(peer, env)
		r.signals.described[env.SenderId] = true
		for _, ice := range r.signals.take(env.SenderId) {
			r.forward(peer, ice)
		}
	case SignalIceCandidate:
		if peer != nil && r.signals.described[env.SenderId] {
			r.forward(peer, env)
			return
		}

		if !r.signals.buffer(env) {
			r.log.Warn().Str("from", env.SenderId).Msg("ice buffer full, dropping candidate")
		}
	}
}

func (r *Room) forward(peer *member, env *SignalEnvelope) {
	if !peer.client.queueMessage(relayedSignal(env)) {
		r.log.Warn().Str("to", peer.participant.Id).Str("kind", string(env.Kind)).Msg("peer send queue full, dropping signal")
		return
	}

	r.hub.stats.Incr(stats.SignalsRelayed)
}
