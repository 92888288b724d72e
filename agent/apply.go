package agent

import (
	"context"
	"math"

	"github.com/hazyhaar/tabvol/dom"
)

// binding is what the agent knows about one media element.
type binding struct {
	// listening is true once the volume listener is attached.
	listening bool
	// pending/expect form the self-write guard: the next volume change
	// reporting expect was caused by the agent and is not feedback.
	pending bool
	expect  float64
}

// guardEpsilon absorbs float rounding between a written volume and the
// value the page reports back.
const guardEpsilon = 1e-6

func (a *Agent) binding(id string) *binding {
	b, ok := a.bindings[id]
	if !ok {
		b = &binding{}
		a.bindings[id] = b
	}
	return b
}

func (a *Agent) applyAll(ctx context.Context) {
	media, err := a.doc.Media(ctx)
	if err != nil {
		a.logger.Debug("agent: list media failed", "error", err)
		return
	}
	for _, el := range media {
		a.apply(ctx, el)
	}
}

// apply writes the resolved volume to el when it differs, then makes sure
// the volume listener is attached exactly once.
func (a *Agent) apply(ctx context.Context, el dom.Element) {
	vol := a.Resolved()
	b := a.binding(el.ID)

	if el.Volume != vol {
		b.pending, b.expect = true, vol
		if err := a.doc.SetVolume(ctx, el.ID, vol); err != nil {
			b.pending = false
			a.logger.Debug("agent: set volume failed", "element", el.ID, "error", err)
			return
		}
	}

	if !b.listening {
		if err := a.doc.Listen(ctx, el.ID); err != nil {
			a.logger.Debug("agent: attach listener failed", "element", el.ID, "error", err)
			return
		}
		b.listening = true
	}
}

// feedback handles a volume change reported by a media element.
func (a *Agent) feedback(el dom.Element) {
	b, ok := a.bindings[el.ID]
	if !ok || !b.listening {
		return
	}
	if b.pending {
		b.pending = false
		if math.Abs(el.Volume-b.expect) < guardEpsilon {
			return
		}
	}
	if math.Abs(el.Volume-a.Resolved()) < a.cfg.Threshold {
		return
	}

	a.logger.Info("agent: page changed volume", "element", el.ID, "volume", el.Volume)
	a.setResolved(el.Volume)
	a.writer.schedule(el.Volume)
}

// flush persists the pending page change under the origin key (http/https
// only) and the session key.
func (a *Agent) flush(ctx context.Context) {
	vol, ok := a.writer.take()
	if !ok {
		return
	}
	keys := a.id.Keys()
	if err := a.store.SetMany(ctx, keys, vol); err != nil {
		a.logger.Error("agent: save volume failed", "keys", keys, "error", err)
		return
	}
	a.logger.Debug("agent: volume saved", "keys", keys, "volume", vol)
}
