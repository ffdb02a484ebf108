package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
	"go.uber.org/zap"
)

// Controller interprets the replies of one loom connection. State changes are
// driven by replies only, never by the commands we send.
type Controller struct {
	logger   *zap.Logger
	link     Link
	reporter Reporter

	mu               sync.RWMutex
	shaftWord        uint32
	directionForward bool
	motion           protocol.MotionState
	lastStatus       *protocol.StatusWord
	version          string
	lastReply        time.Time
}

func NewController(logger *zap.Logger, link Link, reporter Reporter) *Controller {
	return &Controller{
		logger:           logger,
		link:             link,
		reporter:         reporter,
		directionForward: true,
		motion:           protocol.MotionDone,
	}
}

// Run reads and dispatches replies until the link closes or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Loom reply loop started")
	for {
		line, err := c.link.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, ErrLinkClosed) {
				c.logger.Info("Loom link closed, reply loop stopped")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read from loom failed: %w", err)
		}
		c.HandleReply(ctx, line)
	}
}

// HandleReply processes one line received from the loom.
func (c *Controller) HandleReply(ctx context.Context, line string) {
	msg, err := protocol.ParseLine(line)
	if err != nil {
		c.reportProblem(ctx, err.Error())
		return
	}

	c.mu.Lock()
	c.lastReply = time.Now()
	c.mu.Unlock()

	switch msg.Tag {
	case protocol.TagShaftReply:
		c.handleShafts(ctx, msg)
	case protocol.TagDirectionReply:
		c.handleDirection(ctx, msg)
	case protocol.TagStatusReply:
		c.handleStatus(ctx, msg)
	case protocol.TagVersionReply:
		c.mu.Lock()
		c.version = msg.Payload
		c.mu.Unlock()
		c.logger.Info("Loom version", zap.String("version", msg.Payload))
	default:
		c.reportProblem(ctx, fmt.Sprintf("invalid loom reply %q: unknown reply %q", msg.String(), msg.Tag))
	}
}

func (c *Controller) handleShafts(ctx context.Context, msg protocol.Message) {
	word, err := protocol.ParseShaftWord(msg.Payload)
	if err != nil {
		c.reportProblem(ctx, fmt.Sprintf("invalid loom reply %q: %v", msg.String(), err))
		return
	}

	c.mu.Lock()
	c.shaftWord = word
	c.mu.Unlock()

	c.reporter.ReportShaftState(ctx)
}

func (c *Controller) handleDirection(ctx context.Context, msg protocol.Message) {
	forward, err := protocol.ParseDirection(msg.Payload)
	if err != nil {
		c.reportProblem(ctx, fmt.Sprintf("invalid loom reply %q: %v", msg.String(), err))
		return
	}

	c.mu.Lock()
	c.directionForward = forward
	c.mu.Unlock()

	c.reporter.ReportDirection(ctx)
}

func (c *Controller) handleStatus(ctx context.Context, msg protocol.Message) {
	status, err := protocol.ParseStatusWord(msg.Payload)
	if err != nil {
		c.reportProblem(ctx, fmt.Sprintf("invalid loom reply %q: %v", msg.String(), err))
		return
	}

	c.mu.Lock()
	previous := c.motion
	c.motion = status.Motion()
	c.lastStatus = &status
	changed := c.motion != previous
	c.mu.Unlock()

	if changed {
		c.logger.Debug("Loom motion changed",
			zap.String("motion", string(status.Motion())),
			zap.String("previous", string(previous)))
		c.reporter.ReportShaftState(ctx)
	}

	if status.PickWanted() {
		c.reporter.HandleNextPickRequest(ctx)
	}
}

func (c *Controller) reportProblem(ctx context.Context, message string) {
	c.logger.Warn("Loom protocol problem", zap.String("problem", message))
	c.reporter.ReportCommandProblem(ctx, message, SeverityWarning)
}

// SendShaftWord asks the loom to raise the given shafts. The local shaft word
// is only updated when the loom confirms with a shafts reply.
func (c *Controller) SendShaftWord(ctx context.Context, word uint32) error {
	return c.write(ctx, protocol.EncodeShaftCommand(word))
}

func (c *Controller) SendDirection(ctx context.Context, forward bool) error {
	return c.write(ctx, protocol.EncodeDirectionCommand(forward))
}

func (c *Controller) QueryStatus(ctx context.Context) error {
	return c.write(ctx, protocol.EncodeStatusRequest())
}

func (c *Controller) RequestVersion(ctx context.Context) error {
	return c.write(ctx, protocol.EncodeVersionRequest())
}

func (c *Controller) write(ctx context.Context, line string) error {
	if err := c.link.Write(ctx, line); err != nil {
		return fmt.Errorf("write %q to loom failed: %w", line, err)
	}
	c.logger.Debug("Sent loom command", zap.String("command", line))
	return nil
}

func (c *Controller) GetStatus() LoomStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := LoomStatus{
		ShaftWord:        c.shaftWord,
		ShaftWordHex:     fmt.Sprintf("%08x", c.shaftWord),
		DirectionForward: c.directionForward,
		Motion:           c.motion,
		Version:          c.version,
		Connected:        c.link.IsConnected(),
		LastReply:        c.lastReply,
	}
	if c.lastStatus != nil {
		status.LastStatus = c.lastStatus.String()
		status.PickWanted = c.lastStatus.PickWanted()
	}
	return status
}
