// Package mixer runs one page agent per browser tab and wires them to the
// shared store and coordinator.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tabvol/agent"
	"github.com/hazyhaar/tabvol/coordinator"
	"github.com/hazyhaar/tabvol/dom"
)

// ErrClosed is returned by Attach once the mixer is closed.
var ErrClosed = errors.New("mixer: closed")

// Config configures a Mixer.
type Config struct {
	Store       agent.Store
	Coordinator *coordinator.Coordinator
	Threshold   float64
	Debounce    time.Duration
	Logger      *slog.Logger
}

// Mixer is the top-level orchestrator of page agents, keyed by tab id.
type Mixer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	pages  map[int]*page
	closed bool
	wg     sync.WaitGroup
}

type page struct {
	agent   *agent.Agent
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
}

// New creates a Mixer.
func New(cfg Config) *Mixer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Mixer{
		cfg:    cfg,
		logger: cfg.Logger,
		pages:  make(map[int]*page),
	}
}

// Attach starts an agent for doc in tab tabID. release, if not nil, runs
// once the agent has stopped. Attaching a tab twice replaces its agent.
func (m *Mixer) Attach(ctx context.Context, tabID int, doc dom.Document, release func()) (*agent.Agent, error) {
	if tabID <= 0 {
		return nil, fmt.Errorf("mixer: invalid tab id %d", tabID)
	}
	m.Detach(tabID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	a := agent.New(agent.Config{
		Document:  doc,
		Store:     m.cfg.Store,
		Identity:  m.cfg.Coordinator.For(coordinator.Sender{TabID: tabID}),
		Threshold: m.cfg.Threshold,
		Debounce:  m.cfg.Debounce,
		Logger:    m.logger.With("tab", tabID),
	})
	actx, cancel := context.WithCancel(ctx)
	p := &page{agent: a, cancel: cancel, done: make(chan struct{}), release: release}
	m.pages[tabID] = p

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(p.done)
		if err := a.Run(actx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("mixer: agent stopped", "tab", tabID, "error", err)
		}
		if p.release != nil {
			p.release()
		}
	}()

	m.logger.Info("mixer: agent attached", "tab", tabID, "url", doc.URL())
	return a, nil
}

// Detach stops the agent of tabID, waiting for its pending write to flush.
func (m *Mixer) Detach(tabID int) {
	m.mu.Lock()
	p, ok := m.pages[tabID]
	delete(m.pages, tabID)
	m.mu.Unlock()
	if !ok {
		return
	}

	p.cancel()
	<-p.done
	m.cfg.Coordinator.Forget(tabID)
	m.logger.Info("mixer: agent detached", "tab", tabID)
}

// Agent returns the agent running in tabID.
func (m *Mixer) Agent(tabID int) (*agent.Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[tabID]
	if !ok {
		return nil, false
	}
	return p.agent, true
}

// Len returns the number of running agents.
func (m *Mixer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Close stops every agent and waits for them.
func (m *Mixer) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]int, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Detach(id)
	}
	m.wg.Wait()
}
