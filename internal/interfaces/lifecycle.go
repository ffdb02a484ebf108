package interfaces

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/KevinKickass/OpenLoomCore/internal/metrics"
)

var (
	ErrLoomNotConnected = errors.New("loom not connected")
	ErrNotSimulated     = errors.New("debug commands require the simulated loom")
	ErrUnknownCommand   = errors.New("unknown command")
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	LoomPort      string `json:"loom_port"`
	LoomProfile   string `json:"loom_profile"`
	LoomConnected bool   `json:"loom_connected"`
	Simulated     bool   `json:"simulated"`
	PickPending   bool   `json:"pick_pending"`
	Clients       int    `json:"clients"`
}

type LifecycleManager interface {
	GetCurrentStatus() SystemStatus
	LoomStatus() (machine.LoomStatus, error)
	ShaftMask() uint32
	StageShaftWord(ctx context.Context, word uint32) (sent bool, err error)
	SetDirection(ctx context.Context, forward bool) error
	QueryStatus(ctx context.Context) error
	SendDebugCommand(ctx context.Context, command string) error
	ConnectLoom(ctx context.Context) error
	Metrics() *metrics.Metrics
	Shutdown(ctx context.Context) error
}
