package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type tags the payload carried by a message.
type Type string

const (
	TypeLogin        Type = "login"
	TypeLogout       Type = "logout"
	TypeGameStart    Type = "game_start"
	TypeGameEnd      Type = "game_end"
	TypeQuestion     Type = "question"
	TypeAnswer       Type = "answer"
	TypeBingo        Type = "bingo"
	TypePlayerUpdate Type = "player_update"
	TypeError        Type = "error"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
)

// ServerID is the sender id used by the host.
const ServerID = "server"

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("malformed message")

// DecodeError describes why an inbound frame was rejected.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

// Message is an immutable wire envelope.
type Message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
	SenderID  string          `json:"sender_id"`
}

// envelope mirrors Message with pointers so missing keys can be detected.
type envelope struct {
	Type      *Type            `json:"type"`
	Data      *json.RawMessage `json:"data"`
	Timestamp *float64         `json:"timestamp"`
	SenderID  *string          `json:"sender_id"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(AnswerPayload)
		if p.Answer.Index == nil && p.Answer.Text == "" {
			sl.ReportError(p.Answer, "Answer", "answer", "required", "")
		}
	}, AnswerPayload{})
	return v
}

var now = time.Now

// NewMessage builds a message stamped with the current time.
func NewMessage(t Type, payload any, senderID string) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{
		Type:      t,
		Data:      data,
		Timestamp: float64(now().UnixNano()) / 1e9,
		SenderID:  senderID,
	}, nil
}

// Encode serializes one message as a single UTF-8 JSON document.
func Encode(t Type, payload any, senderID string) ([]byte, error) {
	msg, err := NewMessage(t, payload, senderID)
	if err != nil {
		return nil, err
	}
	return msg.Marshal()
}

// Marshal serializes an already built message.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one frame and validates the payload of known types.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	switch {
	case env.Type == nil:
		return Message{}, &DecodeError{Reason: "missing type"}
	case env.Data == nil:
		return Message{}, &DecodeError{Reason: "missing data"}
	case env.Timestamp == nil:
		return Message{}, &DecodeError{Reason: "missing timestamp"}
	case env.SenderID == nil:
		return Message{}, &DecodeError{Reason: "missing sender_id"}
	}

	msg := Message{
		Type:      *env.Type,
		Data:      *env.Data,
		Timestamp: *env.Timestamp,
		SenderID:  *env.SenderID,
	}
	payload := payloadFor(msg.Type)
	if payload == nil {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("unknown type %q", msg.Type)}
	}
	if err := msg.Bind(payload); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Bind unmarshals the payload into v and checks its required fields.
func (m Message) Bind(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("invalid %s payload", m.Type), Err: err}
	}
	if err := validate.Struct(v); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("invalid %s payload", m.Type), Err: err}
	}
	return nil
}

func payloadFor(t Type) any {
	switch t {
	case TypeLogin:
		return &LoginPayload{}
	case TypeLogout:
		return &LogoutPayload{}
	case TypeGameStart:
		return &GameStartPayload{}
	case TypeGameEnd:
		return &GameEndPayload{}
	case TypeQuestion:
		return &QuestionPayload{}
	case TypeAnswer:
		return &AnswerPayload{}
	case TypeBingo:
		return &BingoPayload{}
	case TypePlayerUpdate:
		return &PlayerUpdatePayload{}
	case TypeError:
		return &ErrorPayload{}
	case TypePing, TypePong:
		return &PingPayload{}
	}
	return nil
}
