package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

type messageType string

const (
	messageTypeAuth       messageType = "auth"
	messageTypeCreateRoom messageType = "create-room"
	messageTypeJoinRoom   messageType = "join-room"
	messageTypeLeaveRoom  messageType = "leave-room"
	messageTypeSignal     messageType = "signal"
)

// Signal kinds a client may relay to another participant.
const (
	SignalKindOffer     = "offer"
	SignalKindAnswer    = "answer"
	SignalKindCandidate = "candidate"
)

const maxDisplayNameLen = 128

type clientMessage struct {
	Type messageType `json:"type"`

	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`

	DisplayName string `json:"displayName,omitempty"`
	RoomID      string `json:"roomId,omitempty"`

	Target  string          `json:"target,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeAuth:
		if m.APIKey == "" && m.Token == "" {
			return fmt.Errorf("auth message missing apiKey/token")
		}
		if m.DisplayName != "" || m.RoomID != "" || m.Target != "" || m.Kind != "" || m.Payload != nil {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case messageTypeCreateRoom:
		if err := validateDisplayName(m.DisplayName); err != nil {
			return err
		}
		if m.APIKey != "" || m.Token != "" || m.RoomID != "" || m.Target != "" || m.Kind != "" || m.Payload != nil {
			return fmt.Errorf("create-room message has unexpected fields")
		}
	case messageTypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if err := validateDisplayName(m.DisplayName); err != nil {
			return err
		}
		if m.APIKey != "" || m.Token != "" || m.Target != "" || m.Kind != "" || m.Payload != nil {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case messageTypeLeaveRoom:
		if m.APIKey != "" || m.Token != "" || m.DisplayName != "" || m.RoomID != "" || m.Target != "" || m.Kind != "" || m.Payload != nil {
			return fmt.Errorf("leave-room message has unexpected fields")
		}
	case messageTypeSignal:
		if m.Target == "" {
			return fmt.Errorf("signal message missing target")
		}
		switch m.Kind {
		case SignalKindOffer, SignalKindAnswer, SignalKindCandidate:
		default:
			return fmt.Errorf("unsupported signal kind %q", m.Kind)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("signal message missing payload")
		}
		if m.APIKey != "" || m.Token != "" || m.DisplayName != "" || m.RoomID != "" {
			return fmt.Errorf("signal message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func validateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("missing displayName")
	}
	if len(name) > maxDisplayNameLen {
		return fmt.Errorf("displayName exceeds %d bytes", maxDisplayNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("displayName is not valid utf-8")
	}
	return nil
}
