package mixer

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tabvol/browser"
)

// Follow attaches an agent to every page target of the managed browser,
// present and future, and detaches it when the target is destroyed. It
// blocks until ctx is done.
func (m *Mixer) Follow(ctx context.Context, mgr *browser.Manager, tabs *browser.Tabs) error {
	b := mgr.Browser()
	if b == nil {
		return browser.ErrNoBrowser
	}
	b = b.Context(ctx)

	lc := newLifecycles()
	defer lc.stop()
	wait := b.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo == nil || e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			target := e.TargetInfo.TargetID
			lc.created(target, func() { m.attachTarget(ctx, b, tabs, target) })
		},
		func(e *proto.TargetTargetDestroyed) {
			target := e.TargetID
			lc.destroyed(target, func() { m.detachTarget(tabs, target) })
		},
	)
	// Existing targets are reported as created once discovery is on.
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("mixer: discover targets: %w", err)
	}

	m.logger.Info("mixer: following browser tabs")
	wait()
	return ctx.Err()
}

func (m *Mixer) attachTarget(ctx context.Context, b *rod.Browser, tabs *browser.Tabs, target proto.TargetTargetID) {
	id := tabs.Register(target)
	log := m.logger.With("tab", id)

	p, err := b.PageFromTarget(target)
	if err != nil {
		log.Warn("mixer: page from target", "error", err)
		return
	}
	doc, err := browser.Attach(ctx, p, log)
	if err != nil {
		log.Warn("mixer: attach document", "error", err)
		return
	}
	if _, err := m.Attach(ctx, id, doc, doc.Close); err != nil {
		doc.Close()
		log.Warn("mixer: attach agent", "error", err)
	}
}

func (m *Mixer) detachTarget(tabs *browser.Tabs, target proto.TargetTargetID) {
	id, ok := tabs.Unregister(target)
	if !ok {
		return
	}
	m.Detach(id)
}

// lifecycles runs the attach and detach of each target in event order on a
// goroutine of its own, so a slow attach cannot finish after its detach.
type lifecycles struct {
	mu   sync.Mutex
	jobs map[proto.TargetTargetID]chan func()
}

func newLifecycles() *lifecycles {
	return &lifecycles{jobs: make(map[proto.TargetTargetID]chan func())}
}

// created starts target's worker with fn. A target already running is left alone.
func (l *lifecycles) created(target proto.TargetTargetID, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[target]; ok {
		return
	}
	ch := make(chan func(), 2)
	ch <- fn
	l.jobs[target] = ch
	go func() {
		for job := range ch {
			job()
		}
	}()
}

// destroyed queues fn behind target's pending work and retires the worker.
func (l *lifecycles) destroyed(target proto.TargetTargetID, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.jobs[target]
	if !ok {
		return
	}
	delete(l.jobs, target)
	ch <- fn
	close(ch)
}

// stop retires every worker once its queued work is done.
func (l *lifecycles) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for target, ch := range l.jobs {
		close(ch)
		delete(l.jobs, target)
	}
}
