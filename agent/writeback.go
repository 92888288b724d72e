package agent

import "time"

// writeBack holds the latest page volume change until the window passes
// with no newer one. Each schedule restarts the window.
type writeBack struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
	value   float64
	has     bool
}

func newWriteBack(window time.Duration) *writeBack {
	return &writeBack{window: window}
}

func (w *writeBack) schedule(v float64) {
	w.value, w.has = v, true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.NewTimer(w.window)
	w.timerCh = w.timer.C
}

// timerC fires when the window expires. Nil (blocks forever) when idle.
func (w *writeBack) timerC() <-chan time.Time {
	return w.timerCh
}

func (w *writeBack) pending() bool { return w.has }

// take returns the pending value and resets.
func (w *writeBack) take() (float64, bool) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
		w.timerCh = nil
	}
	if !w.has {
		return 0, false
	}
	w.has = false
	return w.value, true
}
