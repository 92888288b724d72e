package agent

import "context"

// navigate handles an in-page URL change. Only a change of origin changes
// the record to use; listeners stay attached.
func (a *Agent) navigate(ctx context.Context, url string) {
	next := a.id.WithURL(url)
	if next.Origin == a.id.Origin {
		return
	}
	a.logger.Info("agent: navigation changed identity", "from", a.id, "to", next)
	a.flush(ctx)
	a.setIdentity(next)
	a.load(ctx)
	a.applyAll(ctx)
}

// reset handles a new document in the same tab: every binding refers to
// an element that no longer exists.
func (a *Agent) reset(ctx context.Context, url string) {
	a.flush(ctx)
	a.bindings = make(map[string]*binding)
	a.setIdentity(a.id.WithURL(url))
	a.load(ctx)
	a.applyAll(ctx)
	a.logger.Info("agent: document replaced", "identity", a.id, "volume", a.Resolved())
}
