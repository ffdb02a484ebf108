package system

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type pickLink interface {
	SendShaftWord(ctx context.Context, word uint32) error
	// PickWanted reports the pick bit of the loom's latest status.
	PickWanted() bool
}

// PickScheduler pairs the loom's pick requests with shaft words staged by
// clients. Repeated requests before a word is available count as one. A
// request is forgotten once the loom reports a status without the pick bit.
type PickScheduler struct {
	mu      sync.Mutex
	sender  pickLink
	logger  *zap.Logger
	pending bool
	staged  *uint32
}

func NewPickScheduler(sender pickLink, logger *zap.Logger) *PickScheduler {
	return &PickScheduler{
		sender: sender,
		logger: logger,
	}
}

// Request records a pick request and sends the staged word, if any.
func (p *PickScheduler) Request(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.staged == nil {
		if p.pending {
			p.logger.Debug("Pick already pending, request coalesced")
		}
		p.pending = true
		return nil
	}

	word := *p.staged
	p.staged = nil
	p.pending = false
	return p.sender.SendShaftWord(ctx, word)
}

// Stage offers the next shaft word. It is sent immediately when a pick is
// pending, otherwise it replaces any previously staged word.
func (p *PickScheduler) Stage(ctx context.Context, word uint32) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending && !p.sender.PickWanted() {
		// The request was answered or went stale; a =C now would be ignored.
		p.logger.Debug("Loom no longer wants a pick, keeping shaft word staged",
			zap.Uint32("shaft_word", word))
		p.pending = false
	}

	if !p.pending {
		p.staged = &word
		return false, nil
	}

	if err := p.sender.SendShaftWord(ctx, word); err != nil {
		return false, err
	}
	p.pending = false
	return true, nil
}

func (p *PickScheduler) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Reset forgets pending requests and staged words, e.g. after a reconnect.
func (p *PickScheduler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = false
	p.staged = nil
}
