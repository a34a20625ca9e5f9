package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Event names on the wire. Client and server use the same names for the
// routed events; updateUserList is server to client only.
const (
	EventJoin           = "join"
	EventPrivateMessage = "private message"
	EventTyping         = "typing"
	EventStopTyping     = "stop typing"
	EventUserList       = "updateUserList"
)

// MaxUsernameLength bounds the name a client may join with.
const MaxUsernameLength = 64

var (
	errUnknownEvent = errors.New("unknown event")
	validate        = newValidator()
)

// newValidator returns a validator that also understands the "username" tag.
func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("username", validUsername); err != nil {
		panic(err)
	}
	return v
}

// validUsername accepts names of 1 to MaxUsernameLength characters.
func validUsername(fl validator.FieldLevel) bool {
	n := utf8.RuneCountInString(fl.Field().String())
	return n > 0 && n <= MaxUsernameLength
}

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	Username string `validate:"required,username"`
}

// PrivateMessageRequest is sent by a client to address another user.
type PrivateMessageRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// TypingRequest is the payload of typing and stop typing from a client.
type TypingRequest struct {
	Recipient string `json:"recipient" validate:"required"`
}

// PrivateMessage is what the recipient receives.
type PrivateMessage struct {
	Sender   string `json:"sender"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// TypingNotice is what the recipient of typing and stop typing receives.
type TypingNotice struct {
	Sender string `json:"sender"`
}

// command is a decoded, validated client event.
type command struct {
	event     string
	username  string
	recipient string
	message   string
	imageURL  string
}

// decodeCommand parses and validates one client frame.
func decodeCommand(raw []byte) (command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return command{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventJoin:
		var name string
		if err := json.Unmarshal(env.Data, &name); err != nil {
			return command{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if err := validate.Struct(joinRequest{Username: name}); err != nil {
			return command{}, fmt.Errorf("invalid %s: %w", env.Event, err)
		}
		return command{event: env.Event, username: name}, nil

	case EventPrivateMessage:
		var req PrivateMessageRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return command{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if err := validate.Struct(req); err != nil {
			return command{}, fmt.Errorf("invalid %s: %w", env.Event, err)
		}
		return command{event: env.Event, recipient: req.Recipient, message: req.Message, imageURL: req.ImageURL}, nil

	case EventTyping, EventStopTyping:
		var req TypingRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return command{}, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if err := validate.Struct(req); err != nil {
			return command{}, fmt.Errorf("invalid %s: %w", env.Event, err)
		}
		return command{event: env.Event, recipient: req.Recipient}, nil
	}

	return command{}, fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
}

// encodeEvent wraps payload in an envelope named event.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
