// Package agent implements the per-page volume agent.
//
// An Agent owns one page: it resolves the page identity, applies the stored
// volume to every media element, keeps applying it to elements that appear
// or (re)load later, captures the page's own volume changes back into the
// store, and follows store changes made elsewhere. All of its state is
// confined to the goroutine running Run, which plays the part of the page's
// event loop.
package agent

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/tabvol/dom"
	"github.com/hazyhaar/tabvol/identity"
	"github.com/hazyhaar/tabvol/volstore"
)

// Store is the part of the volume store the agent needs.
type Store interface {
	Get(ctx context.Context) (volstore.Volumes, error)
	SetMany(ctx context.Context, keys []string, vol float64) error
	Subscribe(fn volstore.Listener) func()
}

// TabIDSource answers "what is my tab id". In production it is the
// coordinator bound to the page's sender.
type TabIDSource interface {
	TabID(ctx context.Context) (int, error)
}

// TabIDFunc adapts a function to TabIDSource.
type TabIDFunc func(ctx context.Context) (int, error)

// TabID implements TabIDSource.
func (f TabIDFunc) TabID(ctx context.Context) (int, error) { return f(ctx) }

// Config configures an Agent.
type Config struct {
	Document dom.Document
	Store    Store
	Identity TabIDSource
	// Threshold below which a page volume change is treated as noise. Default: 0.01.
	Threshold float64
	// Debounce is the quiet period before a page volume change is persisted. Default: 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.01
	}
	if c.Debounce <= 0 {
		c.Debounce = 250 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Agent is the context object for one page.
type Agent struct {
	cfg    Config
	doc    dom.Document
	store  Store
	logger *slog.Logger

	// Loop-owned state.
	id       identity.Identity
	bindings map[string]*binding
	writer   *writeBack
	storeCh  chan volstore.Volumes

	// Published copies for observers outside the loop.
	resolvedBits atomic.Uint64
	inert        atomic.Bool
	idMu         sync.Mutex
	pubID        identity.Identity
	ready        chan struct{}
}

// New creates an Agent. Call Run to start it.
func New(cfg Config) *Agent {
	cfg.defaults()
	a := &Agent{
		cfg:      cfg,
		doc:      cfg.Document,
		store:    cfg.Store,
		logger:   cfg.Logger,
		bindings: make(map[string]*binding),
		writer:   newWriteBack(cfg.Debounce),
		storeCh:  make(chan volstore.Volumes, 1),
		ready:    make(chan struct{}),
	}
	a.setResolved(volstore.DefaultVolume)
	return a
}

// Resolved returns the volume the agent currently believes correct.
func (a *Agent) Resolved() float64 {
	return math.Float64frombits(a.resolvedBits.Load())
}

// Identity returns the active page identity.
func (a *Agent) Identity() identity.Identity {
	a.idMu.Lock()
	defer a.idMu.Unlock()
	return a.pubID
}

// Inert reports whether identity resolution failed and the agent is idle.
func (a *Agent) Inert() bool { return a.inert.Load() }

// Ready is closed once initialization finished (or the agent went inert).
func (a *Agent) Ready() <-chan struct{} { return a.ready }

// Run initializes the agent and processes page and store events until ctx
// is cancelled or the document stops delivering events.
func (a *Agent) Run(ctx context.Context) error {
	events := a.doc.Events()

	tabID, err := a.cfg.Identity.TabID(ctx)
	if err != nil || tabID <= 0 {
		a.logger.Warn("agent: identity unresolved, staying inert", "url", a.doc.URL(), "error", err)
		a.inert.Store(true)
		close(a.ready)
		<-ctx.Done()
		return nil
	}

	unsubscribe := a.store.Subscribe(a.onStoreChange)
	defer unsubscribe()

	a.setIdentity(identity.New(a.doc.URL(), tabID))
	a.load(ctx)
	a.applyAll(ctx)
	a.logger.Info("agent: ready", "identity", a.id, "tab", tabID, "volume", a.Resolved())
	close(a.ready)

	for {
		select {
		case <-ctx.Done():
			a.shutdown(ctx)
			return nil

		case ev, ok := <-events:
			if !ok {
				a.shutdown(ctx)
				return nil
			}
			a.handle(ctx, ev)

		case v := <-a.storeCh:
			a.onVolumes(ctx, v)

		case <-a.writer.timerC():
			a.flush(ctx)
		}
	}
}

func (a *Agent) handle(ctx context.Context, ev dom.Event) {
	switch ev.Kind {
	case dom.Inserted:
		if ev.Node.IsMedia() {
			a.apply(ctx, ev.Node)
		}
		for _, el := range ev.Media {
			a.apply(ctx, el)
		}
		if ev.Node.IsMedia() || len(ev.Media) > 0 {
			a.logger.Debug("agent: new media applied", "identity", a.id, "volume", a.Resolved())
		}
	case dom.Loaded:
		if ev.Node.IsMedia() {
			a.apply(ctx, ev.Node)
			a.logger.Debug("agent: media "+ev.Signal, "element", ev.Node.ID, "volume", a.Resolved())
		}
	case dom.VolumeChanged:
		a.feedback(ev.Node)
	case dom.Navigated:
		a.navigate(ctx, ev.URL)
	case dom.Reset:
		a.reset(ctx, ev.URL)
	}
}

// onStoreChange runs on the writer's goroutine: it only hands the mapping to
// the loop, keeping the latest one if the loop is busy.
func (a *Agent) onStoreChange(v volstore.Volumes) {
	for {
		select {
		case a.storeCh <- v:
			return
		default:
		}
		select {
		case <-a.storeCh:
		default:
		}
	}
}

// onVolumes re-applies when the mapping holds a value for this page. While a
// page change is waiting to be persisted the mapping is older than what the
// page shows, so it is skipped; the pending write broadcasts again.
func (a *Agent) onVolumes(ctx context.Context, v volstore.Volumes) {
	if a.writer.pending() {
		return
	}
	vol, key, ok := v.Resolve(a.id)
	if !ok {
		return
	}
	if vol != a.Resolved() {
		a.logger.Info("agent: volume updated from store", "key", key, "volume", vol)
	}
	a.setResolved(vol)
	a.applyAll(ctx)
}

// load reads the record for the active identity; a missing record or an
// unreadable store means full volume.
func (a *Agent) load(ctx context.Context) {
	v, err := a.store.Get(ctx)
	if err != nil {
		a.logger.Warn("agent: load volumes failed, using default", "error", err)
		a.setResolved(volstore.DefaultVolume)
		return
	}
	vol, key, ok := v.Resolve(a.id)
	if ok {
		a.logger.Info("agent: loaded saved volume", "key", key, "volume", vol)
	}
	a.setResolved(vol)
}

func (a *Agent) shutdown(ctx context.Context) {
	if !a.writer.pending() {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	a.flush(fctx)
}

func (a *Agent) setResolved(v float64) {
	a.resolvedBits.Store(math.Float64bits(v))
}

func (a *Agent) setIdentity(id identity.Identity) {
	a.id = id
	a.idMu.Lock()
	a.pubID = id
	a.idMu.Unlock()
}
