// Package appevents defines the messages the core emits to the
// surrounding interface layer: connection-state changes, listing updates,
// log lines, transfer progress and errors. The interface layer (terminal
// REPL, window toolkit, anything) consumes these over a channel and never
// touches the socket.
package appevents

import (
	"github.com/rescp17/lanDrive/pkg/protocol"
)

// Msg is a marker interface for messages sent from the core to the
// interface layer. The unexported method ensures only types embedding
// Message can satisfy it, providing compile-time safety.
type Msg interface {
	isMsg()
}

// Message is embedded by concrete message types to satisfy Msg.
type Message struct{}

func (Message) isMsg() {}

// Log levels attached to LogMsg, mirroring how events are tinted in the
// interface layer.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelClient  = "client"
)

// ConnectionMsg reports a connection-state change of the client engine.
type ConnectionMsg struct {
	Message
	Connected bool
	Addr      string
}

// ListingMsg carries a fresh directory listing and the logical path it
// describes.
type ListingMsg struct {
	Message
	Entries []protocol.Entry
	Path    string
}

// LogMsg is one line for the activity feed.
type LogMsg struct {
	Message
	Level string
	Text  string
}

// ProgressMsg reports transfer progress as a percentage of the declared
// size.
type ProgressMsg struct {
	Message
	Filename string
	Percent  int
}

// ErrorMsg surfaces a failure as a user-facing notification.
type ErrorMsg struct {
	Message
	Err error
}

// ClientCountMsg reports the number of live server sessions.
type ClientCountMsg struct {
	Message
	Count int
}

// Emit delivers msg without blocking the core; slow or absent consumers
// drop messages rather than stalling a session or transfer.
func Emit(ch chan<- Msg, msg Msg) {
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
