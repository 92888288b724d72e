package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tabvol/dom"
)

//go:embed bridge.js
var bridgeJS string

const bindingName = "__tabvol_binding"

// Document is a dom.Document over a live page. The bridge script is
// installed on the current document and on every new one; it reports media
// insertions, load signals and volume changes through a runtime binding.
// Navigation comes from the page's own CDP events.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
	q      *dom.Queue

	mu  sync.Mutex
	url string

	cancel       context.CancelFunc
	removeScript func() error
	done         chan struct{}
}

// Attach installs the bridge in page and starts relaying its events. The
// document lives until ctx is done or Close is called.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("browser: page info: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:   page.Context(ctx),
		logger: logger,
		q:      dom.NewQueue(),
		url:    info.URL,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(d.page); err != nil {
		d.Close()
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	remove, err := d.page.EvalOnNewDocument(bridgeJS)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("browser: install bridge: %w", err)
	}
	d.removeScript = remove

	// Subscribe before touching the current document so nothing it reports
	// is lost.
	wait := d.page.EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			ev, err := decodeMessage(e.Payload)
			if err != nil {
				d.logger.Warn("browser: bridge payload", "error", err)
				return
			}
			d.q.Push(ev)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			d.setURL(e.Frame.URL)
			d.q.Push(dom.Event{Kind: dom.Reset, URL: e.Frame.URL})
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID != d.page.FrameID {
				return
			}
			d.setURL(e.URL)
			d.q.Push(dom.Event{Kind: dom.Navigated, URL: e.URL})
		},
	)
	go func() {
		defer close(d.done)
		wait()
	}()

	res, err := proto.RuntimeEvaluate{Expression: bridgeJS}.Call(d.page)
	if err == nil && res.ExceptionDetails != nil {
		err = fmt.Errorf("%s", res.ExceptionDetails.Text)
	}
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("browser: inject bridge: %w", err)
	}
	return d, nil
}

// Close stops event delivery and removes the bridge from future documents.
func (d *Document) Close() {
	d.cancel()
	if d.removeScript != nil {
		// The page may already be gone.
		_ = d.removeScript()
	}
	d.q.Close()
}

// Done is closed once the page stops delivering events.
func (d *Document) Done() <-chan struct{} { return d.done }

// URL implements dom.Document.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Document) setURL(u string) {
	d.mu.Lock()
	d.url = u
	d.mu.Unlock()
}

// Events implements dom.Document.
func (d *Document) Events() <-chan dom.Event { return d.q.Events() }

// Media implements dom.Document.
func (d *Document) Media(ctx context.Context) ([]dom.Element, error) {
	res, err := d.page.Context(ctx).Eval(`() => window.__tabvol ? window.__tabvol.media() : "[]"`)
	if err != nil {
		return nil, fmt.Errorf("browser: list media: %w", err)
	}
	var raw []jsElement
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, fmt.Errorf("browser: decode media: %w", err)
	}
	out := make([]dom.Element, len(raw))
	for i, e := range raw {
		out[i] = e.element()
	}
	return out, nil
}

// SetVolume implements dom.Document.
func (d *Document) SetVolume(ctx context.Context, id string, vol float64) error {
	return d.call(ctx, `(id, v) => !!window.__tabvol && window.__tabvol.set(id, v)`, "set volume", id, vol)
}

// Listen implements dom.Document.
func (d *Document) Listen(ctx context.Context, id string) error {
	return d.call(ctx, `(id) => !!window.__tabvol && window.__tabvol.listen(id)`, "listen", id)
}

func (d *Document) call(ctx context.Context, js, what, id string, args ...any) error {
	res, err := d.page.Context(ctx).Eval(js, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("browser: %s %s: %w", what, id, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: %s: no media element %s", what, id)
	}
	return nil
}

// jsElement is an element snapshot as the bridge serialises it.
type jsElement struct {
	ID         string  `json:"id"`
	Tag        string  `json:"tag"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	Src        string  `json:"src"`
	CurrentSrc string  `json:"currentSrc"`
}

func (e jsElement) element() dom.Element {
	return dom.Element{ID: e.ID, Tag: e.Tag, Volume: e.Volume, Muted: e.Muted, Src: e.Src, CurrentSrc: e.CurrentSrc}
}

// decodeMessage turns a bridge message into a page event.
func decodeMessage(payload string) (dom.Event, error) {
	var msg struct {
		Type   string      `json:"type"`
		Signal string      `json:"signal"`
		Node   jsElement   `json:"node"`
		Media  []jsElement `json:"media"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return dom.Event{}, err
	}

	ev := dom.Event{Node: msg.Node.element()}
	switch msg.Type {
	case "inserted":
		ev.Kind = dom.Inserted
		for _, m := range msg.Media {
			ev.Media = append(ev.Media, m.element())
		}
	case "loaded":
		if msg.Signal != dom.SignalLoadedMetadata && msg.Signal != dom.SignalCanPlay {
			return dom.Event{}, fmt.Errorf("unknown signal %q", msg.Signal)
		}
		ev.Kind = dom.Loaded
		ev.Signal = msg.Signal
	case "volume":
		ev.Kind = dom.VolumeChanged
	default:
		return dom.Event{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	if ev.Node.ID == "" {
		return dom.Event{}, fmt.Errorf("%s message without node", msg.Type)
	}
	return ev, nil
}
