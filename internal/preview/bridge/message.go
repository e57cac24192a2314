package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrFraming marks an inbound frame that is not a console message.
var ErrFraming = errors.New("bridge: malformed console frame")

// Level is the severity of a console message.
type Level string

const (
	LevelLog   Level = "log"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelInfo  Level = "info"
)

// Valid reports whether l is one of the accepted levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLog, LevelWarn, LevelError, LevelInfo:
		return true
	}
	return false
}

// ConsoleMessage is the sandbox to host payload.
type ConsoleMessage struct {
	IsConsoleEvent bool     `json:"isConsoleEvent"`
	Level          Level    `json:"level"`
	Args           []string `json:"args"`
}

// Text joins the serialized arguments with single spaces.
func (m ConsoleMessage) Text() string {
	return strings.Join(m.Args, " ")
}

// Decode parses raw into a console message, rejecting anything without the
// isConsoleEvent tag or with an unknown level.
func Decode(raw []byte) (ConsoleMessage, error) {
	var msg ConsoleMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return ConsoleMessage{}, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if !msg.IsConsoleEvent {
		return ConsoleMessage{}, fmt.Errorf("%w: missing isConsoleEvent", ErrFraming)
	}
	if !msg.Level.Valid() {
		return ConsoleMessage{}, fmt.Errorf("%w: unknown level %q", ErrFraming, msg.Level)
	}
	if msg.Args == nil {
		msg.Args = []string{}
	}
	return msg, nil
}

// Encode serializes msg as the sandbox would post it.
func Encode(msg ConsoleMessage) ([]byte, error) {
	msg.IsConsoleEvent = true
	if msg.Args == nil {
		msg.Args = []string{}
	}
	return sonic.Marshal(msg)
}
