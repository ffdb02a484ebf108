package system

import (
	"context"

	"github.com/KevinKickass/OpenLoomCore/internal/api/websocket"
	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"go.uber.org/zap"
)

var _ machine.Reporter = (*LifecycleManager)(nil)

// ReportCommandProblem forwards protocol problems to the clients.
func (lm *LifecycleManager) ReportCommandProblem(ctx context.Context, message string, severity machine.Severity) {
	lm.metrics.Problems.WithLabelValues(string(severity)).Inc()
	lm.wsHub.Broadcast(websocket.NewCommandProblemMessage(message, string(severity)))
}

func (lm *LifecycleManager) ReportShaftState(ctx context.Context) {
	status, err := lm.LoomStatus()
	if err != nil {
		return
	}
	lm.metrics.ShaftReports.Inc()
	lm.wsHub.Broadcast(websocket.NewShaftStateMessage(status.ShaftWordHex, string(status.Motion)))
}

func (lm *LifecycleManager) ReportDirection(ctx context.Context) {
	status, err := lm.LoomStatus()
	if err != nil {
		return
	}
	lm.metrics.DirectionChange.Inc()
	lm.wsHub.Broadcast(websocket.NewWeaveDirectionMessage(status.DirectionForward))
}

// HandleNextPickRequest sends the staged shaft word or marks a pick as pending.
func (lm *LifecycleManager) HandleNextPickRequest(ctx context.Context) {
	lm.metrics.PicksRequested.Inc()
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypePickRequested, nil))

	if err := lm.picks.Request(ctx); err != nil {
		lm.logger.Error("Failed to send staged shaft word", zap.Error(err))
		lm.ReportCommandProblem(ctx, "failed to send staged shaft word: "+err.Error(), machine.SeverityError)
	}
}
