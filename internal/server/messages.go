package server

import (
	"encoding/json"
	"time"

	"github.com/npezzotti/go-consult/internal/types"
)

// client -> server
const (
	TypeJoinRoom         = "join-room"
	TypeLeaveRoom        = "leave-room"
	TypeSignalOffer      = "signal-offer"
	TypeSignalAnswer     = "signal-answer"
	TypeSignalIce        = "signal-ice"
	TypeChatMessage      = "chat-message"
	TypeAddNote          = "add-note"
	TypeEndCall          = "end-call"
	TypeFetchChatHistory = "fetch-chat-history"
	TypeFetchNotes       = "fetch-notes"
)

// server -> client
const (
	TypeJoinedRoom  = "joined-room"
	TypeLeftRoom    = "left-room"
	TypePeerJoined  = "peer-joined"
	TypePeerLeft    = "peer-left"
	TypeNoteAdded   = "note-added"
	TypeChatHistory = "chat-history"
	TypeNotes       = "notes"
	TypeCallEnded   = "call-ended"
	TypeSuperseded  = "superseded"
	TypeError       = "error"
)

type ClientMessage struct {
	Id             int             `json:"id,omitempty"`
	Type           string          `json:"type"`
	ConsultationId string          `json:"consultationId,omitempty"`
	RoomId         string          `json:"roomId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Text           string          `json:"text,omitempty"`
	Before         int64           `json:"before,omitempty"`
	Limit          int             `json:"limit,omitempty"`
}

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice-candidate"
)

func signalKindFor(msgType string) (SignalKind, bool) {
	switch msgType {
	case TypeSignalOffer:
		return SignalOffer, true
	case TypeSignalAnswer:
		return SignalAnswer, true
	case TypeSignalIce:
		return SignalIceCandidate, true
	}
	return "", false
}

func (k SignalKind) messageType() string {
	switch k {
	case SignalOffer:
		return TypeSignalOffer
	case SignalAnswer:
		return TypeSignalAnswer
	}
	return TypeSignalIce
}

// SignalEnvelope is relayed to the peer as-is. The payload is never inspected.
type SignalEnvelope struct {
	RoomId   string
	Kind     SignalKind
	Payload  json.RawMessage
	SenderId string
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type ServerMessage struct {
	Id        int                 `json:"id,omitempty"`
	Type      string              `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	RoomId    string              `json:"roomId,omitempty"`
	From      string              `json:"from,omitempty"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Room      *types.RoomView     `json:"room,omitempty"`
	Identity  *types.Identity     `json:"identity,omitempty"`
	Profile   *types.Participant  `json:"profile,omitempty"`
	Initiator *bool               `json:"initiator,omitempty"`
	Message   *types.ChatMessage  `json:"message,omitempty"`
	Note      *types.Note         `json:"note,omitempty"`
	Messages  []types.ChatMessage `json:"messages,omitempty"`
	Notes     []types.Note        `json:"notes,omitempty"`
	Error     *ErrorBody          `json:"error,omitempty"`
}

func joinedRoom(id int, view types.RoomView, initiator bool) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeJoinedRoom,
		Timestamp: Now(),
		RoomId:    view.RoomId,
		Room:      &view,
		Initiator: &initiator,
	}
}

func leftRoom(id int, roomId string) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeLeftRoom,
		Timestamp: Now(),
		RoomId:    roomId,
	}
}

func peerJoined(roomId string, peer types.Participant, initiator bool) *ServerMessage {
	identity := peer.Identity()
	return &ServerMessage{
		Type:      TypePeerJoined,
		Timestamp: Now(),
		RoomId:    roomId,
		Identity:  &identity,
		Profile:   &peer,
		Initiator: &initiator,
	}
}

func peerLeft(roomId string, identity types.Identity) *ServerMessage {
	return &ServerMessage{
		Type:      TypePeerLeft,
		Timestamp: Now(),
		RoomId:    roomId,
		Identity:  &identity,
	}
}

func relayedSignal(env *SignalEnvelope) *ServerMessage {
	return &ServerMessage{
		Type:      env.Kind.messageType(),
		Timestamp: Now(),
		RoomId:    env.RoomId,
		From:      env.SenderId,
		Payload:   env.Payload,
	}
}

func chatMessage(id int, msg types.ChatMessage) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeChatMessage,
		Timestamp: Now(),
		Message:   &msg,
	}
}

func noteAdded(id int, note types.Note) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeNoteAdded,
		Timestamp: Now(),
		Note:      &note,
	}
}

func chatHistory(id int, msgs []types.ChatMessage) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeChatHistory,
		Timestamp: Now(),
		Messages:  msgs,
	}
}

func notesList(id int, notes []types.Note) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeNotes,
		Timestamp: Now(),
		Notes:     notes,
	}
}

func callEnded(id int, roomId string) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Type:      TypeCallEnded,
		Timestamp: Now(),
		RoomId:    roomId,
	}
}

func supersededMessage() *ServerMessage {
	return &ServerMessage{
		Type:      TypeSuperseded,
		Timestamp: Now(),
	}
}

func errorMessage(id int, err error) *ServerMessage {
	e := AsError(err)
	return &ServerMessage{
		Id:        id,
		Type:      TypeError,
		Timestamp: Now(),
		Error: &ErrorBody{
			Code:    e.Code,
			Message: e.Message,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
