package machine

import (
	"context"
	"errors"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
)

// ErrLinkClosed is returned by a Link once the connection is gone.
var ErrLinkClosed = errors.New("loom link closed")

// Link is the capability both the serial adapter and the simulator provide.
type Link interface {
	Write(ctx context.Context, line string) error
	ReadLine(ctx context.Context) (string, error)
	IsConnected() bool
	Close() error
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Reporter is implemented by the surrounding server. Calls must not block
// indefinitely.
type Reporter interface {
	ReportCommandProblem(ctx context.Context, message string, severity Severity)
	ReportShaftState(ctx context.Context)
	ReportDirection(ctx context.Context)
	HandleNextPickRequest(ctx context.Context)
}

type LoomStatus struct {
	ShaftWord        uint32               `json:"shaft_word"`
	ShaftWordHex     string               `json:"shaft_word_hex"`
	DirectionForward bool                 `json:"direction_forward"`
	Motion           protocol.MotionState `json:"motion"`
	LastStatus       string               `json:"last_status,omitempty"`
	PickWanted       bool                 `json:"pick_wanted"`
	Version          string               `json:"version,omitempty"`
	Connected        bool                 `json:"connected"`
	LastReply        time.Time            `json:"last_reply,omitzero"`
}
