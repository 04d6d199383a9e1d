package stream

import (
	"encoding/json"
	"errors"
)

// Severity classifies a server-sent chat error frame.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ActionType discriminates the frontend action union attached to a
// result frame.
type ActionType string

const (
	ActionNavigate         ActionType = "navigate"
	ActionOpenMap          ActionType = "open_map"
	ActionConfirmEmailSend ActionType = "confirm_email_send"
)

// Action is a typed instruction returned alongside a chat result. At
// most one action is attached per result.
type Action struct {
	Type     ActionType             `json:"type"`
	URL      string                 `json:"url,omitempty"`
	Location string                 `json:"location,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// ConfirmationID extracts the confirmation id from an email-send
// payload. Returns empty string for other action types.
func (a *Action) ConfirmationID() string {
	if a == nil || a.Payload == nil {
		return ""
	}
	if id, ok := a.Payload["confirmationId"].(string); ok {
		return id
	}
	return ""
}

// Event is one decoded wire frame. Exactly one concrete variant per
// frame; consumers switch on the type.
type Event interface {
	frameEvent()
}

// StatusUpdate reports pipeline progress. It never mutates the
// message log, only the loading state.
type StatusUpdate struct {
	Step    string
	Message string
}

// ChatUpdate carries one partial text chunk of the response in
// progress.
type ChatUpdate struct {
	TextChunk string
}

// ResultUpdate finalizes a response. Thoughts and Action are optional.
type ResultUpdate struct {
	Message  string
	Thoughts string
	Action   *Action
}

// ErrorUpdate surfaces a server-side chat error or warning. Fatal
// marks the session as unrecoverable.
type ErrorUpdate struct {
	Message  string
	Severity Severity
	Thoughts string
	Fatal    bool
}

func (StatusUpdate) frameEvent() {}
func (ChatUpdate) frameEvent()   {}
func (ResultUpdate) frameEvent() {}
func (ErrorUpdate) frameEvent()  {}

// ErrUnknownFrameType is returned by DecodeFrame for frames whose type
// tag is not part of the protocol. Callers log and drop these.
var ErrUnknownFrameType = errors.New("unknown frame type")

// wireFrame is the raw JSON shape of every frame variant. The type
// tag selects which fields are meaningful.
type wireFrame struct {
	Type      string  `json:"type"`
	Step      string  `json:"step,omitempty"`
	Message   string  `json:"message,omitempty"`
	Thoughts  string  `json:"thoughts,omitempty"`
	TextChunk string  `json:"textChunk,omitempty"`
	ErrorType string  `json:"errorType,omitempty"`
	Fatal     bool    `json:"fatal,omitempty"`
	Action    *Action `json:"action,omitempty"`
}

// DecodeFrame parses one reassembled frame payload into its typed
// event. A JSON error is returned as-is; an unrecognized type tag
// returns ErrUnknownFrameType.
func DecodeFrame(payload []byte) (Event, error) {
	var raw wireFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "status":
		return StatusUpdate{Step: raw.Step, Message: raw.Message}, nil
	case "chat":
		return ChatUpdate{TextChunk: raw.TextChunk}, nil
	case "result":
		return ResultUpdate{Message: raw.Message, Thoughts: raw.Thoughts, Action: raw.Action}, nil
	case "error":
		severity := Severity(raw.ErrorType)
		if severity != SeverityWarning {
			severity = SeverityError
		}
		return ErrorUpdate{Message: raw.Message, Severity: severity, Thoughts: raw.Thoughts, Fatal: raw.Fatal}, nil
	default:
		return nil, ErrUnknownFrameType
	}
}
