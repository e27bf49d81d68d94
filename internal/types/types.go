package types

import (
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Identity is the authenticated caller behind a connection. It never changes
// for the lifetime of that connection.
type Identity struct {
	UserId string `json:"id"`
	Role   Role   `json:"role"`
}

type Participant struct {
	Id      string         `json:"id"`
	Role    Role           `json:"role"`
	Name    string         `json:"name,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}

func (p Participant) Identity() Identity {
	return Identity{UserId: p.Id, Role: p.Role}
}

// Participants is the authorized pair for one consultation as reported by the
// consultation-record service.
type Participants struct {
	ConsultationId string      `json:"consultationId"`
	Patient        Participant `json:"patient"`
	Doctor         Participant `json:"doctor"`
	ChatEnabled    bool        `json:"chatEnabled"`
}

// Member returns the participant matching both the user id and role of id.
func (p Participants) Member(id Identity) (Participant, bool) {
	switch {
	case id.UserId == "":
		return Participant{}, false
	case p.Patient.Id == id.UserId && id.Role == RolePatient:
		return p.Patient, true
	case p.Doctor.Id == id.UserId && id.Role == RoleDoctor:
		return p.Doctor, true
	}

	return Participant{}, false
}

// Other returns the counterpart of userId.
func (p Participants) Other(userId string) (Participant, bool) {
	switch userId {
	case p.Patient.Id:
		return p.Doctor, true
	case p.Doctor.Id:
		return p.Patient, true
	}

	return Participant{}, false
}

type RoomState string

const (
	RoomEmpty   RoomState = "empty"
	RoomWaiting RoomState = "waiting"
	RoomActive  RoomState = "active"
	RoomEnded   RoomState = "ended"
)

type RoomView struct {
	RoomId    string        `json:"roomId"`
	State     RoomState     `json:"state"`
	Members   []Participant `json:"members"`
	Initiator string        `json:"initiator,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

type ChatMessage struct {
	Id             int64     `json:"id"`
	ConsultationId string    `json:"consultationId"`
	FromId         string    `json:"fromId"`
	ToId           string    `json:"toId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Note struct {
	Id             int64     `json:"id"`
	ConsultationId string    `json:"consultationId"`
	AuthorId       string    `json:"authorId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

type CallSummary struct {
	EndedBy   string     `json:"endedBy,omitempty"`
	Reason    string     `json:"reason"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   time.Time  `json:"endedAt"`
}
