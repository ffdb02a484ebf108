// Package simulator provides a virtual dobby loom that speaks the same line
// protocol as the hardware, including the delay between accepting a shaft word
// and reporting the shed as settled.
//
// All loom state is owned by a single dispatch goroutine. Settle timer
// completions are handed back to that goroutine, so no locking is needed for
// the loom state itself.
package simulator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
	"go.uber.org/zap"
)

const (
	DefaultSettleDuration = time.Second
	DefaultVersion        = "001"

	replyBufferSize = 64
)

// Out of band command codes (case-insensitive)
const (
	OOBToggleDirection = 'd'
	OOBToggleError     = 'e'
	OOBRequestPick     = 'n'
	OOBCloseConnection = 'c'
)

type Config struct {
	SettleDuration time.Duration
	Version        string
	Verbose        bool
}

// State is a snapshot of the simulated loom.
type State struct {
	ShaftWord    uint32
	WeaveForward bool
	PickWanted   bool
	ErrorFlag    bool
	Moving       bool
}

// Loom is a simulated loom. It implements machine.Link from the controller's
// point of view: Write sends a command to the loom, ReadLine returns its replies.
type Loom struct {
	cfg    Config
	logger *zap.Logger

	commands  chan string
	replies   chan string
	settled   chan uint64
	snapshots chan chan State

	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool

	// owned by the dispatch goroutine
	shaftWord    uint32
	weaveForward bool
	pickWanted   bool
	errorFlag    bool
	moving       bool
	settleTimer  *time.Timer
	settleGen    uint64
}

var _ machine.Link = (*Loom)(nil)

// Open creates a simulated loom connection and sends the greeting
// (current direction and status), as the hardware does on connect.
func Open(cfg Config, logger *zap.Logger) *Loom {
	if cfg.SettleDuration <= 0 {
		cfg.SettleDuration = DefaultSettleDuration
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	l := &Loom{
		cfg:          cfg,
		logger:       logger,
		commands:     make(chan string),
		replies:      make(chan string, replyBufferSize),
		settled:      make(chan uint64),
		snapshots:    make(chan chan State),
		done:         make(chan struct{}),
		weaveForward: true,
	}
	l.connected.Store(true)

	go l.run()

	return l
}

// Write delivers one command line to the loom.
func (l *Loom) Write(ctx context.Context, line string) error {
	select {
	case <-l.done:
		return machine.ErrLinkClosed
	default:
	}

	select {
	case l.commands <- line:
		return nil
	case <-l.done:
		return machine.ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLine returns the next reply, blocking until one is available. Replies
// emitted before the connection closed are still delivered.
func (l *Loom) ReadLine(ctx context.Context) (string, error) {
	select {
	case reply := <-l.replies:
		return reply, nil
	case <-l.done:
		select {
		case reply := <-l.replies:
			return reply, nil
		default:
			return "", machine.ErrLinkClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Loom) IsConnected() bool {
	return l.connected.Load()
}

// Close tears down the connection. Safe to call more than once.
func (l *Loom) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		close(l.done)
		l.logger.Info("Simulated loom connection closed")
	})
	return nil
}

// Done is closed once the connection is gone.
func (l *Loom) Done() <-chan struct{} {
	return l.done
}

// State returns a snapshot taken by the dispatch goroutine.
func (l *Loom) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case l.snapshots <- reply:
	case <-l.done:
		return State{}, machine.ErrLinkClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (l *Loom) run() {
	defer l.stopSettleTimer()

	l.reportDirection()
	l.reportStatus()

	for {
		select {
		case <-l.done:
			return
		case cmd := <-l.commands:
			l.handleCommand(cmd)
		case gen := <-l.settled:
			l.finishMotion(gen)
		case reply := <-l.snapshots:
			reply <- State{
				ShaftWord:    l.shaftWord,
				WeaveForward: l.weaveForward,
				PickWanted:   l.pickWanted,
				ErrorFlag:    l.errorFlag,
				Moving:       l.moving,
			}
		}
	}
}

func (l *Loom) handleCommand(raw string) {
	cmd := strings.TrimRight(raw, "\r\n ")
	if l.cfg.Verbose {
		l.logger.Info("Simulated loom received command", zap.String("command", cmd))
	}
	if cmd == "" {
		return
	}
	if len(cmd) < 2 {
		l.logger.Warn("Invalid command: must be at least 2 characters", zap.String("command", cmd))
		return
	}
	if cmd[0] == protocol.SigilOutOfBand {
		l.handleOutOfBand(cmd[1:])
		return
	}

	msg, err := protocol.ParseLine(cmd)
	if err != nil {
		l.logger.Warn("Invalid command: must begin with '=' or '#'", zap.String("command", cmd))
		return
	}

	switch msg.Tag {
	case protocol.TagShaftCommand:
		word, err := protocol.ParseShaftWord(msg.Payload)
		if err != nil {
			l.logger.Warn("Invalid command: data after =C not a hex value", zap.String("command", cmd))
			return
		}
		if l.errorFlag {
			return
		}
		l.setShaftWord(word)
	case protocol.TagDirectionCommand:
		if l.errorFlag {
			return
		}
		forward, err := protocol.ParseDirection(msg.Payload)
		if err != nil {
			l.logger.Warn("Invalid command: arg must be 0 or 1", zap.String("command", cmd))
			return
		}
		l.weaveForward = forward
		l.reportDirection()
	case protocol.TagVersionRequest:
		l.emit(protocol.EncodeVersionReply(l.cfg.Version))
	case protocol.TagStatusRequest:
		l.reportStatus()
	case protocol.SigilOutOfBand:
		l.handleOutOfBand(msg.Payload)
	default:
		l.logger.Warn("Unrecognized command", zap.String("command", cmd))
	}
}

func (l *Loom) handleOutOfBand(data string) {
	if data == "" {
		l.logger.Warn("Empty out of band command")
		return
	}

	switch code := strings.ToLower(data)[0]; code {
	case OOBToggleDirection:
		if l.errorFlag {
			return
		}
		l.weaveForward = !l.weaveForward
		l.reportDirection()
	case OOBToggleError:
		l.errorFlag = !l.errorFlag
		l.reportStatus()
		l.logger.Info("Toggled error flag", zap.Bool("error_flag", l.errorFlag))
	case OOBRequestPick:
		l.pickWanted = true
		l.reportStatus()
	case OOBCloseConnection:
		l.Close()
	default:
		l.logger.Warn("Unrecognized out of band command", zap.String("command", data))
	}
}

// setShaftWord accepts a shaft word only when a pick was requested. A newer
// word replaces any motion still in progress.
func (l *Loom) setShaftWord(word uint32) {
	if !l.pickWanted {
		l.logger.Debug("Ignoring shaft word, no pick wanted", zap.Uint32("shaft_word", word))
		return
	}

	l.shaftWord = word
	l.pickWanted = false
	l.stopSettleTimer()
	l.moving = true
	l.reportStatus()

	l.settleGen++
	gen := l.settleGen
	l.settleTimer = time.AfterFunc(l.cfg.SettleDuration, func() {
		select {
		case l.settled <- gen:
		case <-l.done:
		}
	})
}

func (l *Loom) finishMotion(gen uint64) {
	// A timer that fired just before being replaced still delivers; drop it.
	if gen != l.settleGen || !l.moving {
		return
	}
	l.settleTimer = nil
	l.moving = false
	l.reportStatus()
	l.emit(protocol.EncodeShaftReply(l.shaftWord))
}

func (l *Loom) stopSettleTimer() {
	if l.settleTimer != nil {
		l.settleTimer.Stop()
		l.settleTimer = nil
	}
}

func (l *Loom) reportStatus() {
	l.emit(protocol.EncodeStatusReply(protocol.NewStatusWord(!l.moving, l.pickWanted, l.errorFlag)))
}

func (l *Loom) reportDirection() {
	l.emit(protocol.EncodeDirectionReply(l.weaveForward))
}

func (l *Loom) emit(reply string) {
	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.replies <- reply:
	case <-l.done:
	}
}
