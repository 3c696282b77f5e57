package presence

import "encoding/json"

// EventType names a server-to-client notification.
type EventType string

const (
	EventTypeWelcome              EventType = "welcome"
	EventTypeRoomCreated          EventType = "room-created"
	EventTypeExistingParticipants EventType = "existing-participants"
	EventTypeParticipantJoined    EventType = "participant-joined"
	EventTypeParticipantLeft      EventType = "participant-left"
	EventTypeRoomEnded            EventType = "room-ended"
	EventTypeSignal               EventType = "signal"
	EventTypeRoomError            EventType = "room-error"
)

// Participant appears in existing-participants snapshots.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Event is the notification envelope delivered to clients. Only the fields
// relevant to the event's type are set; everything else is omitted on the
// wire.
type Event struct {
	Type EventType `json:"type"`

	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	// Participants is a pointer so that existing-participants always carries
	// an array on the wire, even an empty one, while every other event type
	// omits the field entirely.
	Participants *[]Participant `json:"participants,omitempty"`
	Reason       string         `json:"reason,omitempty"`

	// Relayed signal fields.
	From    string          `json:"from,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Welcome(connID string) Event {
	return Event{Type: EventTypeWelcome, ID: connID}
}

func RoomCreated(roomID string) Event {
	return Event{Type: EventTypeRoomCreated, RoomID: roomID}
}

func ExistingParticipants(participants []Participant) Event {
	if participants == nil {
		participants = []Participant{}
	}
	return Event{Type: EventTypeExistingParticipants, Participants: &participants}
}

func ParticipantJoined(connID, displayName string) Event {
	return Event{Type: EventTypeParticipantJoined, ID: connID, DisplayName: displayName}
}

func ParticipantLeft(connID string) Event {
	return Event{Type: EventTypeParticipantLeft, ID: connID}
}

func RoomEnded() Event {
	return Event{Type: EventTypeRoomEnded}
}

func Signal(from, kind string, payload json.RawMessage) Event {
	return Event{Type: EventTypeSignal, From: from, Kind: kind, Payload: payload}
}

func RoomError(reason string) Event {
	return Event{Type: EventTypeRoomError, Reason: reason}
}
