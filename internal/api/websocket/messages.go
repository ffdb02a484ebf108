package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Server -> client
	MessageTypeShaftState     MessageType = "shaft_state"
	MessageTypeWeaveDirection MessageType = "weave_direction"
	MessageTypePickRequested  MessageType = "pick_requested"
	MessageTypeCommandProblem MessageType = "command_problem"
	MessageTypeLoomConnection MessageType = "loom_connection"

	// Client -> server
	MessageTypeSetDirection MessageType = "set_direction"
	MessageTypeOOBCommand   MessageType = "oob_command"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type ShaftStateData struct {
	ShaftWord string `json:"shaft_word"`
	Motion    string `json:"motion"`
}

type WeaveDirectionData struct {
	Forward bool `json:"forward"`
}

type CommandProblemData struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type LoomConnectionData struct {
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id"`
}

// ClientCommand is what clients send us.
type ClientCommand struct {
	Type    MessageType `json:"type"`
	Forward *bool       `json:"forward,omitempty"`
	Command string      `json:"command,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewShaftStateMessage(shaftWord, motion string) Message {
	return NewMessage(MessageTypeShaftState, ShaftStateData{
		ShaftWord: shaftWord,
		Motion:    motion,
	})
}

func NewWeaveDirectionMessage(forward bool) Message {
	return NewMessage(MessageTypeWeaveDirection, WeaveDirectionData{Forward: forward})
}

func NewCommandProblemMessage(message, severity string) Message {
	return NewMessage(MessageTypeCommandProblem, CommandProblemData{
		Message:  message,
		Severity: severity,
	})
}
