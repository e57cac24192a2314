package ws

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/session"
)

// MessageType names a frame on the surface stream.
type MessageType string

// Server to client
const (
	MsgLoad       MessageType = "load"
	MsgDiagnostic MessageType = "diagnostic"
	MsgConsole    MessageType = "console"
	MsgSnapshot   MessageType = "snapshot"
	MsgBadge      MessageType = "badge"
	MsgCleared    MessageType = "cleared"
	MsgStatus     MessageType = "status"
	MsgTitle      MessageType = "title"
	MsgFocus      MessageType = "focus"
	MsgPong       MessageType = "pong"
	MsgError      MessageType = "error"
)

// Client to server
const (
	MsgRefresh MessageType = "refresh"
	MsgClear   MessageType = "clear"
	MsgPing    MessageType = "ping"
)

// Entry is a console event as the shell renders it.
type Entry struct {
	Sequence uint64 `json:"sequence"`
	Time     string `json:"time"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

func entryOf(ev session.Event) Entry {
	return Entry{
		Sequence: ev.Sequence,
		Time:     ev.Clock(),
		Level:    string(ev.Level),
		Message:  ev.Message,
	}
}

// Frame is one server to client message. Only the fields of its type are set.
type Frame struct {
	Type     MessageType `json:"type"`
	Revision uint64      `json:"revision,omitempty"`
	Content  string      `json:"content,omitempty"`
	Policy   string      `json:"policy,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Entry    *Entry      `json:"entry,omitempty"`
	Entries  []Entry     `json:"entries,omitempty"`
	Count    *int        `json:"count,omitempty"`
	Status   string      `json:"status,omitempty"`
	Title    string      `json:"title,omitempty"`
	Document string      `json:"document,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// Inbound is one client to server message. Data holds the console payload
// exactly as the sandboxed frame posted it.
type Inbound struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return sonic.Marshal(f)
}

func decodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	err := sonic.Unmarshal(raw, &in)
	return in, err
}
