// Package dom is the page model the agent works against: media elements,
// the operations the agent performs on them, and the events a page emits.
//
// Two implementations exist: Tree (in-memory, used by tests and
// simulations) and browser.Document (a live tab over CDP).
package dom

import (
	"context"
	"strings"
)

// Element is a snapshot of a DOM element.
type Element struct {
	ID         string  `json:"id"`
	Tag        string  `json:"tag"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted,omitempty"`
	Src        string  `json:"src,omitempty"`
	CurrentSrc string  `json:"current_src,omitempty"`
}

// IsMedia reports whether the element is an <audio> or <video>.
func (e Element) IsMedia() bool {
	return IsMediaTag(e.Tag)
}

// HasSource reports whether the element has a non-empty resolved source.
func (e Element) HasSource() bool {
	return strings.TrimSpace(e.CurrentSrc) != "" || strings.TrimSpace(e.Src) != ""
}

// AllMuted reports whether media is non-empty and every element is muted.
func AllMuted(media []Element) bool {
	for _, el := range media {
		if !el.Muted {
			return false
		}
	}
	return len(media) > 0
}

// IsMediaTag reports whether tag names a media element.
func IsMediaTag(tag string) bool {
	switch strings.ToUpper(tag) {
	case "AUDIO", "VIDEO":
		return true
	}
	return false
}

// EventKind identifies what happened in the page.
type EventKind int

const (
	// Inserted: Node was added to the document; Media lists the media
	// elements inside it (Node itself excluded).
	Inserted EventKind = iota + 1
	// Loaded: a media element fired Signal ("loadedmetadata" or "canplay").
	Loaded
	// VolumeChanged: a listened media element's volume changed to Node.Volume.
	VolumeChanged
	// Navigated: the URL changed without a new document (history API,
	// popstate, hash change).
	Navigated
	// Reset: a new document replaced the old one in the same tab. Every
	// element and listener from before is gone.
	Reset
)

func (k EventKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Loaded:
		return "loaded"
	case VolumeChanged:
		return "volume"
	case Navigated:
		return "navigate"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Load-state signals.
const (
	SignalLoadedMetadata = "loadedmetadata"
	SignalCanPlay        = "canplay"
)

// Event is one page notification.
type Event struct {
	Kind   EventKind
	Node   Element
	Media  []Element
	Signal string
	URL    string
}

// Document is one page as seen by the agent.
type Document interface {
	// URL returns the page's current location.
	URL() string
	// Media returns every audio and video element currently in the document.
	Media(ctx context.Context) ([]Element, error)
	// SetVolume assigns the element's volume.
	SetVolume(ctx context.Context, id string, vol float64) error
	// Listen attaches a volume change listener to the element. VolumeChanged
	// events are only emitted for listened elements.
	Listen(ctx context.Context, id string) error
	// Events delivers page notifications until the document is closed.
	Events() <-chan Event
}

// SetAll assigns vol to every media element in doc and returns how many
// elements were written. It is what the privileged volume injection does.
func SetAll(ctx context.Context, doc Document, vol float64) (int, error) {
	media, err := doc.Media(ctx)
	if err != nil {
		return 0, err
	}
	for _, el := range media {
		if err := doc.SetVolume(ctx, el.ID, vol); err != nil {
			return 0, err
		}
	}
	return len(media), nil
}

// Probe reports whether doc holds a media element with a source. It is the
// read-only check behind the coordinator's media probe.
func Probe(ctx context.Context, doc Document) (bool, error) {
	media, err := doc.Media(ctx)
	if err != nil {
		return false, err
	}
	for _, el := range media {
		if el.HasSource() {
			return true, nil
		}
	}
	return false, nil
}
