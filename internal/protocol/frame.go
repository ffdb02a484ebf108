package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Terminator beendet jede Zeile auf der Leitung
const Terminator = '\r'

const (
	SigilCommand    = '='
	SigilOutOfBand  = '#'
	shaftWordDigits = 8
)

// Command tags (controller -> loom)
const (
	TagShaftCommand     = 'C'
	TagDirectionCommand = 'U'
	TagVersionRequest   = 'V'
	TagStatusRequest    = 'Q'
)

// Reply tags (loom -> controller)
const (
	TagShaftReply     = 'c'
	TagDirectionReply = 'u'
	TagVersionReply   = 'v'
	TagStatusReply    = 's'
)

var (
	ErrTooShort         = errors.New("line too short")
	ErrMissingSigil     = errors.New("no leading '='")
	ErrInvalidHex       = errors.New("payload is not a hex value")
	ErrInvalidDirection = errors.New("direction must be 0 or 1")
)

// LineError carries the offending line so callers can report it verbatim.
type LineError struct {
	Line string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("invalid loom line %q: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type Kind int

const (
	KindCommand Kind = iota
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Message is one parsed line. It is never persisted.
type Message struct {
	Kind    Kind
	Tag     byte
	Payload string
}

func (m Message) String() string {
	return string([]byte{SigilCommand, m.Tag}) + m.Payload
}

// ParseLine validates the framing of a "=<tag><payload>" line.
// Payload interpretation is left to the caller.
func ParseLine(line string) (Message, error) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 {
		return Message{}, &LineError{Line: trimmed, Err: ErrTooShort}
	}
	if trimmed[0] != SigilCommand {
		return Message{}, &LineError{Line: trimmed, Err: ErrMissingSigil}
	}

	msg := Message{
		Kind:    KindCommand,
		Tag:     trimmed[1],
		Payload: trimmed[2:],
	}
	if msg.Tag >= 'a' && msg.Tag <= 'z' {
		msg.Kind = KindReply
	}
	return msg, nil
}

// EncodeShaftCommand formats a shaft word as "=C" plus 8 lowercase hex digits.
func EncodeShaftCommand(word uint32) string {
	return fmt.Sprintf("=%c%0*x", TagShaftCommand, shaftWordDigits, word)
}

func EncodeDirectionCommand(forward bool) string {
	return fmt.Sprintf("=%c%s", TagDirectionCommand, directionBit(forward))
}

func EncodeVersionRequest() string {
	return fmt.Sprintf("=%c", TagVersionRequest)
}

func EncodeStatusRequest() string {
	return fmt.Sprintf("=%c", TagStatusRequest)
}

func EncodeShaftReply(word uint32) string {
	return fmt.Sprintf("=%c%0*x", TagShaftReply, shaftWordDigits, word)
}

// EncodeDirectionReply sends 1 for reverse (unweave), 0 for forward.
func EncodeDirectionReply(forward bool) string {
	return fmt.Sprintf("=%c%s", TagDirectionReply, directionBit(forward))
}

func EncodeStatusReply(status StatusWord) string {
	return fmt.Sprintf("=%c%s", TagStatusReply, status)
}

func EncodeVersionReply(version string) string {
	return fmt.Sprintf("=%c%s", TagVersionReply, version)
}

func EncodeOutOfBand(code byte) string {
	return string([]byte{SigilOutOfBand, code})
}

// ParseShaftWord decodes a hex shaft word payload.
func ParseShaftWord(payload string) (uint32, error) {
	value, err := strconv.ParseUint(payload, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, payload)
	}
	return uint32(value), nil
}

// ParseDirection returns true for forward ("0") and false for reverse ("1").
func ParseDirection(payload string) (bool, error) {
	switch payload {
	case "0":
		return true, nil
	case "1":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidDirection, payload)
	}
}

func directionBit(forward bool) string {
	if forward {
		return "0"
	}
	return "1"
}
