// Package serial connects to a physical loom over a serial port.
package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenLoomCore/internal/machine"
	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate = 9600
	lineBufferSize  = 64
)

type Config struct {
	Device     string
	BaudRate   int
	Terminator byte
}

// Port is a loom link over a serial device. A reader goroutine splits the
// incoming byte stream into lines.
type Port struct {
	cfg    Config
	port   io.ReadWriteCloser
	logger *zap.Logger

	writeMu   sync.Mutex
	lines     chan string
	readErr   error
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

var _ machine.Link = (*Port)(nil)

// Open öffnet den seriellen Port (8N1)
func Open(cfg Config, logger *zap.Logger) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
	}

	logger.Info("Serial port opened",
		zap.String("device", cfg.Device),
		zap.Int("baud_rate", cfg.BaudRate))

	return newPort(cfg, sp, logger), nil
}

// newPort wraps an already open stream. Used directly by tests.
func newPort(cfg Config, rw io.ReadWriteCloser, logger *zap.Logger) *Port {
	if cfg.Terminator == 0 {
		cfg.Terminator = protocol.Terminator
	}

	p := &Port{
		cfg:    cfg,
		port:   rw,
		logger: logger,
		lines:  make(chan string, lineBufferSize),
		done:   make(chan struct{}),
	}
	p.connected.Store(true)

	go p.readLoop()

	return p
}

func (p *Port) readLoop() {
	defer close(p.lines)

	reader := bufio.NewReader(p.port)
	for {
		raw, err := reader.ReadString(p.cfg.Terminator)
		if line := strings.TrimSpace(raw); line != "" && err == nil {
			select {
			case p.lines <- line:
			case <-p.done:
				return
			}
		}
		if err != nil {
			select {
			case <-p.done:
			default:
				p.logger.Warn("Serial read stopped", zap.String("device", p.cfg.Device), zap.Error(err))
				p.readErr = err
			}
			p.connected.Store(false)
			return
		}
	}
}

// Write sends one command followed by the terminator.
func (p *Port) Write(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.IsConnected() {
		return machine.ErrLinkClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.port.Write([]byte(line + string(p.cfg.Terminator))); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// ReadLine returns the next line without its terminator.
func (p *Port) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			if p.readErr != nil && !errors.Is(p.readErr, io.EOF) {
				return "", fmt.Errorf("%w: %v", machine.ErrLinkClosed, p.readErr)
			}
			return "", machine.ErrLinkClosed
		}
		return line, nil
	case <-p.done:
		return "", machine.ErrLinkClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Port) IsConnected() bool {
	return p.connected.Load()
}

// Close schließt den Port; weitere Aufrufe sind wirkungslos
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		close(p.done)
		err = p.port.Close()
		p.logger.Info("Serial port closed", zap.String("device", p.cfg.Device))
	})
	return err
}
