package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tabvol/coordinator"
)

// Privileged scripts. They run in the page's main world and touch every
// audio/video element regardless of what the page agent knows.
const (
	setVolumeJS = `(v) => {
		const media = document.querySelectorAll('audio,video');
		media.forEach((m) => { m.volume = v; });
		return media.length;
	}`
	probeJS = `() => Array.from(document.querySelectorAll('audio,video')).some((m) =>
		(m.currentSrc || '').trim() !== '' || (m.getAttribute('src') || '').trim() !== '')`
	stateJS = `() => {
		const media = Array.from(document.querySelectorAll('audio,video'));
		return {
			audible: media.some((m) => !m.paused && !m.muted && m.volume > 0),
			muted: media.length > 0 && media.every((m) => m.muted),
		};
	}`
	toggleMuteJS = `() => {
		const media = Array.from(document.querySelectorAll('audio,video'));
		const mute = !(media.length > 0 && media.every((m) => m.muted));
		media.forEach((m) => { m.muted = mute; });
		return mute && media.length > 0;
	}`
)

// stateTimeout bounds the audible/muted check done while listing tabs.
const stateTimeout = 500 * time.Millisecond

// Tabs is the tab registry. It hands out positive session ids to page
// targets, stable for the target's lifetime, and implements
// coordinator.Injector.
type Tabs struct {
	mgr    *Manager
	logger *slog.Logger

	mu      sync.Mutex
	next    int
	ids     map[proto.TargetTargetID]int
	targets map[int]proto.TargetTargetID
}

// NewTabs creates an empty registry over mgr's browser.
func NewTabs(mgr *Manager, logger *slog.Logger) *Tabs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tabs{
		mgr:     mgr,
		logger:  logger,
		ids:     make(map[proto.TargetTargetID]int),
		targets: make(map[int]proto.TargetTargetID),
	}
}

// Register returns the session id of target, assigning one on first sight.
func (t *Tabs) Register(target proto.TargetTargetID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[target]; ok {
		return id
	}
	t.next++
	t.ids[target] = t.next
	t.targets[t.next] = target
	return t.next
}

// Unregister forgets target and returns the id it had.
func (t *Tabs) Unregister(target proto.TargetTargetID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[target]
	if !ok {
		return 0, false
	}
	delete(t.ids, target)
	delete(t.targets, id)
	return id, true
}

// ID returns target's session id, if registered.
func (t *Tabs) ID(target proto.TargetTargetID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[target]
	return id, ok
}

// Target returns the page target behind a session id.
func (t *Tabs) Target(id int) (proto.TargetTargetID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target, ok := t.targets[id]
	return target, ok
}

func (t *Tabs) page(ctx context.Context, id int) (*rod.Page, error) {
	target, ok := t.Target(id)
	if !ok {
		return nil, fmt.Errorf("browser: unknown tab %d", id)
	}
	b := t.mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}
	page, err := b.PageFromTarget(target)
	if err != nil {
		return nil, fmt.Errorf("browser: tab %d: %w", id, err)
	}
	return page.Context(ctx), nil
}

// SetMediaVolume implements coordinator.Injector.
func (t *Tabs) SetMediaVolume(ctx context.Context, id int, vol float64) (int, error) {
	page, err := t.page(ctx, id)
	if err != nil {
		return 0, err
	}
	res, err := page.Eval(setVolumeJS, vol)
	if err != nil {
		return 0, fmt.Errorf("browser: set volume in tab %d: %w", id, err)
	}
	return res.Value.Int(), nil
}

// ProbeMedia implements coordinator.Injector.
func (t *Tabs) ProbeMedia(ctx context.Context, id int) (bool, error) {
	page, err := t.page(ctx, id)
	if err != nil {
		return false, err
	}
	res, err := page.Eval(probeJS)
	if err != nil {
		return false, fmt.Errorf("browser: probe tab %d: %w", id, err)
	}
	return res.Value.Bool(), nil
}

// ToggleMute implements coordinator.Injector.
func (t *Tabs) ToggleMute(ctx context.Context, id int) (bool, error) {
	page, err := t.page(ctx, id)
	if err != nil {
		return false, err
	}
	res, err := page.Eval(toggleMuteJS)
	if err != nil {
		return false, fmt.Errorf("browser: toggle mute in tab %d: %w", id, err)
	}
	return res.Value.Bool(), nil
}

// Tab implements coordinator.Injector.
func (t *Tabs) Tab(ctx context.Context, id int) (coordinator.Tab, error) {
	page, err := t.page(ctx, id)
	if err != nil {
		return coordinator.Tab{}, err
	}
	info, err := page.Info()
	if err != nil {
		return coordinator.Tab{}, fmt.Errorf("browser: tab %d info: %w", id, err)
	}
	return coordinator.Tab{ID: id, Title: info.Title, URL: info.URL}, nil
}

// Tabs implements coordinator.Injector. Page targets not seen yet are
// registered on the way, so every listed tab has an id.
func (t *Tabs) Tabs(ctx context.Context) ([]coordinator.Tab, error) {
	b := t.mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}
	targets, err := proto.TargetGetTargets{}.Call(b.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}

	var out []coordinator.Tab
	for _, info := range targets.TargetInfos {
		if info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		id := t.Register(info.TargetID)
		audible, muted := t.state(ctx, id)
		out = append(out, coordinator.Tab{
			ID:      id,
			Title:   info.Title,
			URL:     info.URL,
			Audible: audible,
			Muted:   muted,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *Tabs) state(ctx context.Context, id int) (audible, muted bool) {
	ctx, cancel := context.WithTimeout(ctx, stateTimeout)
	defer cancel()
	page, err := t.page(ctx, id)
	if err != nil {
		return false, false
	}
	res, err := page.Eval(stateJS)
	if err != nil {
		t.logger.Debug("browser: media state check", "tab", id, "error", err)
		return false, false
	}
	return res.Value.Get("audible").Bool(), res.Value.Get("muted").Bool()
}
