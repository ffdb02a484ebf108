package machine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller periodically asks the loom for its status. The replies flow through
// the controller's normal reply loop.
type Poller struct {
	controller *Controller
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewPoller(controller *Controller, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		controller: controller,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.interval <= 0 {
		return
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Status poller started", zap.Duration("interval", p.interval))
}

// Stop stoppt das Polling
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.logger.Info("Status poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	if !p.controller.link.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval/2)
	defer cancel()

	if err := p.controller.QueryStatus(ctx); err != nil {
		p.logger.Error("Status poll failed", zap.Error(err))
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
