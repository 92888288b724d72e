// Package coordinator is the privileged side of tabvol: it relays volume
// changes into tabs, answers tab-id queries from page agents, probes tabs for
// media and persists committed volumes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/tabvol/identity"
	"github.com/hazyhaar/tabvol/volstore"
)

var (
	// ErrUnknownRequest is returned for a request variant the coordinator
	// does not handle.
	ErrUnknownRequest = errors.New("coordinator: unknown request")
	// ErrNoTab is returned to a page client whose sender has no tab.
	ErrNoTab = errors.New("coordinator: sender has no tab")
)

// Tab describes one browser tab as seen by the injector.
type Tab struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Audible bool   `json:"audible"`
	// Muted is set when the tab has media and every element is muted.
	Muted bool `json:"muted"`
}

// Injector evaluates privileged scripts in tabs.
type Injector interface {
	// SetMediaVolume sets the volume of every audio/video element of the tab
	// and returns how many elements it touched.
	SetMediaVolume(ctx context.Context, tabID int, vol float64) (int, error)
	ProbeMedia(ctx context.Context, tabID int) (bool, error)
	// ToggleMute mutes every media element of the tab, or unmutes them all
	// when they already are, and returns the new state.
	ToggleMute(ctx context.Context, tabID int) (bool, error)
	Tabs(ctx context.Context) ([]Tab, error)
	Tab(ctx context.Context, tabID int) (Tab, error)
}

// Store is the part of the volume store the coordinator writes to.
type Store interface {
	Get(ctx context.Context) (volstore.Volumes, error)
	SetMany(ctx context.Context, keys []string, vol float64) error
}

// Sender identifies the context a request comes from. TabID is 0 for the
// control surface.
type Sender struct {
	TabID int
}

// Config configures a Coordinator.
type Config struct {
	Injector Injector
	Store    Store
	// PreviewRate bounds live SetVolume injections per tab and second. Calls
	// over the rate are coalesced: the latest value is injected when the next
	// slot opens. Zero means 30; a negative value disables the limit.
	PreviewRate float64
	// ProbeConcurrency bounds parallel probes in ListMediaTabs. Zero means 8.
	ProbeConcurrency int
	Logger           *slog.Logger
}

const (
	defaultPreviewRate      = 30
	defaultProbeConcurrency = 8
	deferredInjectTimeout   = 5 * time.Second
)

// Coordinator handles requests from page agents and the control surface.
type Coordinator struct {
	inj    Injector
	store  Store
	logger *slog.Logger

	previewRate float64
	probeLimit  int

	mu       sync.Mutex
	previews map[int]*preview
}

// preview is the live preview state of one tab.
type preview struct {
	lim     *rate.Limiter
	timer   *time.Timer
	gen     int
	pending float64
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.PreviewRate == 0 {
		cfg.PreviewRate = defaultPreviewRate
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = defaultProbeConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		inj:         cfg.Injector,
		store:       cfg.Store,
		logger:      cfg.Logger,
		previewRate: cfg.PreviewRate,
		probeLimit:  cfg.ProbeConcurrency,
		previews:    make(map[int]*preview),
	}
}

// Handle dispatches req. Injection failures are absorbed and logged; the
// returned error is reserved for malformed requests and store failures.
func (c *Coordinator) Handle(ctx context.Context, from Sender, req Request) (Response, error) {
	switch r := req.(type) {
	case SetVolume:
		return c.SetVolume(ctx, r.TabID, r.Volume)
	case CommitVolume:
		return c.CommitVolume(ctx, r.TabID, r.Volume)
	case GetTabID:
		return c.GetTabID(from), nil
	case ProbeMedia:
		return c.ProbeMedia(ctx, r.TabID), nil
	case ListMediaTabs:
		return c.ListMediaTabs(ctx), nil
	case ToggleMute:
		return c.ToggleMute(ctx, r.TabID), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

// SetVolume injects vol into every media element of the tab, live only. Over
// the preview rate the value is queued and replies StatusVolumeQueued; the
// last queued value of a burst is the one injected.
func (c *Coordinator) SetVolume(ctx context.Context, tabID int, vol float64) (StatusResponse, error) {
	vol, err := volstore.Clamp(vol)
	if err != nil {
		return StatusResponse{}, err
	}
	if c.queuePreview(tabID, vol) {
		return StatusResponse{Status: StatusVolumeQueued}, nil
	}
	c.inject(ctx, tabID, vol)
	return StatusResponse{Status: StatusVolumeSet}, nil
}

// CommitVolume injects vol like SetVolume, bypassing the preview rate and
// discarding any queued preview, then persists it under the tab's origin key
// and session key.
func (c *Coordinator) CommitVolume(ctx context.Context, tabID int, vol float64) (StatusResponse, error) {
	vol, err := volstore.Clamp(vol)
	if err != nil {
		return StatusResponse{}, err
	}
	c.dropPreview(tabID)
	c.inject(ctx, tabID, vol)

	tab, err := c.inj.Tab(ctx, tabID)
	if err != nil {
		c.logger.Warn("coordinator: commit on unknown tab", "tab", tabID, "error", err)
		return StatusResponse{Status: StatusVolumeSet}, nil
	}
	id := identity.New(tab.URL, tab.ID)
	if err := c.store.SetMany(ctx, id.Keys(), vol); err != nil {
		return StatusResponse{}, fmt.Errorf("coordinator: commit tab %d: %w", tabID, err)
	}
	c.logger.Info("coordinator: volume committed", "tab", tabID, "identity", id.String(), "volume", vol)
	return StatusResponse{Status: StatusVolumeSet}, nil
}

// GetTabID returns the sender's tab id, or a nil id for the control surface.
func (c *Coordinator) GetTabID(from Sender) TabIDResponse {
	if from.TabID <= 0 {
		return TabIDResponse{}
	}
	id := from.TabID
	return TabIDResponse{TabID: &id}
}

// ProbeMedia reports whether the tab has an audio/video element with a
// source. Any injection failure reads as false.
func (c *Coordinator) ProbeMedia(ctx context.Context, tabID int) ProbeResponse {
	ok, err := c.inj.ProbeMedia(ctx, tabID)
	if err != nil {
		c.logger.Debug("coordinator: probe refused", "tab", tabID, "error", err)
		return ProbeResponse{}
	}
	return ProbeResponse{HasMedia: ok}
}

// ToggleMute flips the tab's mute state. An injection failure reads as
// unmuted.
func (c *Coordinator) ToggleMute(ctx context.Context, tabID int) MuteResponse {
	muted, err := c.inj.ToggleMute(ctx, tabID)
	if err != nil {
		c.logger.Warn("coordinator: toggle mute", "tab", tabID, "error", err)
		return MuteResponse{}
	}
	c.logger.Info("coordinator: mute toggled", "tab", tabID, "muted", muted)
	return MuteResponse{Muted: muted}
}

// ListMediaTabs returns the tabs that are audible or hold media, in the
// injector's order.
func (c *Coordinator) ListMediaTabs(ctx context.Context) TabsResponse {
	tabs, err := c.inj.Tabs(ctx)
	if err != nil {
		c.logger.Warn("coordinator: list tabs", "error", err)
		return TabsResponse{Tabs: []Tab{}}
	}

	has := make([]bool, len(tabs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.probeLimit)
	for i, tab := range tabs {
		if tab.Audible {
			has[i] = true
			continue
		}
		g.Go(func() error {
			has[i] = c.ProbeMedia(gctx, tab.ID).HasMedia
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Tab, 0, len(tabs))
	for i, tab := range tabs {
		if has[i] {
			out = append(out, tab)
		}
	}
	return TabsResponse{Tabs: out}
}

// Volumes returns the persisted mapping.
func (c *Coordinator) Volumes(ctx context.Context) (volstore.Volumes, error) {
	return c.store.Get(ctx)
}

// Forget drops per-tab state once a tab has closed.
func (c *Coordinator) Forget(tabID int) {
	c.dropPreview(tabID)
	c.mu.Lock()
	delete(c.previews, tabID)
	c.mu.Unlock()
}

// For returns a client bound to from, suitable as a page agent's tab id source.
func (c *Coordinator) For(from Sender) PageClient {
	return PageClient{c: c, from: from}
}

// PageClient is the page-side view of the coordinator.
type PageClient struct {
	c    *Coordinator
	from Sender
}

// TabID asks the coordinator for the sender's tab id.
func (p PageClient) TabID(ctx context.Context) (int, error) {
	resp, err := p.c.Handle(ctx, p.from, GetTabID{})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(TabIDResponse)
	if !ok || r.TabID == nil {
		return 0, ErrNoTab
	}
	return *r.TabID, nil
}

func (c *Coordinator) inject(ctx context.Context, tabID int, vol float64) {
	n, err := c.inj.SetMediaVolume(ctx, tabID, vol)
	if err != nil {
		c.logger.Warn("coordinator: inject volume", "tab", tabID, "volume", vol, "error", err)
		return
	}
	c.logger.Debug("coordinator: volume injected", "tab", tabID, "volume", vol, "elements", n)
}

// queuePreview reports whether vol was held back by the tab's limiter. A
// held value replaces the one already waiting; one timer per tab injects
// whatever is waiting when its reserved slot comes up.
func (c *Coordinator) queuePreview(tabID int, vol float64) bool {
	if c.previewRate < 0 || math.IsInf(c.previewRate, 1) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.previews[tabID]
	if !ok {
		p = &preview{lim: rate.NewLimiter(rate.Limit(c.previewRate), 1)}
		c.previews[tabID] = p
	}
	if p.timer != nil {
		p.pending = vol
		return true
	}
	d := p.lim.Reserve().Delay()
	if d == 0 {
		return false
	}
	p.pending = vol
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(d, func() { c.flushPreview(tabID, p, gen) })
	return true
}

func (c *Coordinator) flushPreview(tabID int, p *preview, gen int) {
	c.mu.Lock()
	if p.gen != gen || p.timer == nil {
		c.mu.Unlock()
		return
	}
	vol := p.pending
	p.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deferredInjectTimeout)
	defer cancel()
	c.inject(ctx, tabID, vol)
}

// dropPreview discards a queued preview so it cannot land after a commit.
func (c *Coordinator) dropPreview(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.previews[tabID]
	if !ok || p.timer == nil {
		return
	}
	p.timer.Stop()
	p.timer = nil
	p.gen++
}
