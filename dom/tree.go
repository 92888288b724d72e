package dom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Node is an element of an in-memory Tree.
type Node struct {
	Tag        string
	Src        string
	CurrentSrc string
	Volume     float64
	Muted      bool
	Children   []*Node

	id       string
	parent   *Node
	listened bool
}

// ID returns the node id assigned when the node was attached to a Tree.
func (n *Node) ID() string { return n.id }

func (n *Node) snapshot() Element {
	return Element{ID: n.id, Tag: strings.ToUpper(n.Tag), Volume: n.Volume, Muted: n.Muted, Src: n.Src, CurrentSrc: n.CurrentSrc}
}

// Audio returns an <audio> node. Media nodes attached with a zero Volume
// start at 1.0, as in a browser.
func Audio(src string) *Node {
	return &Node{Tag: "AUDIO", Src: src, CurrentSrc: src}
}

// Video returns a <video> node.
func Video(src string) *Node {
	return &Node{Tag: "VIDEO", Src: src, CurrentSrc: src}
}

// Div returns a container node wrapping children.
func Div(children ...*Node) *Node {
	return &Node{Tag: "DIV", Children: children}
}

// Tree is an in-memory Document. Mutations made through its own methods
// emit the events a browser would. It is safe for concurrent use.
type Tree struct {
	mu    sync.Mutex
	url   string
	root  *Node
	nodes map[string]*Node
	seq   int

	q *Queue
}

// NewTree returns an empty document at url.
func NewTree(url string) *Tree {
	t := &Tree{
		url:   url,
		nodes: make(map[string]*Node),
		q:     NewQueue(),
	}
	t.root = &Node{Tag: "HTML"}
	t.register(t.root)
	return t
}

// Close stops event delivery.
func (t *Tree) Close() { t.q.Close() }

// Root returns the document element id.
func (t *Tree) Root() string { return t.root.id }

// URL implements Document.
func (t *Tree) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Events implements Document.
func (t *Tree) Events() <-chan Event { return t.q.Events() }

// Media implements Document.
func (t *Tree) Media(_ context.Context) ([]Element, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mediaUnder(t.root, true), nil
}

// SetVolume implements Document. Like a browser, it fires a volume change
// only when the value actually changes and a listener is attached.
func (t *Tree) SetVolume(_ context.Context, id string, vol float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("dom: no element %s", id)
	}
	if !IsMediaTag(n.Tag) {
		return fmt.Errorf("dom: element %s is not media", id)
	}
	if vol < 0 || vol > 1 {
		return fmt.Errorf("dom: volume %v out of range", vol)
	}
	t.setVolumeLocked(n, vol)
	return nil
}

// Listen implements Document.
func (t *Tree) Listen(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("dom: no element %s", id)
	}
	n.listened = true
	return nil
}

// Append attaches n (and its subtree) under parent and emits Inserted.
// It returns n's id.
func (t *Tree) Append(parent string, n *Node) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.nodes[parent]
	if !ok {
		return "", fmt.Errorf("dom: no parent %s", parent)
	}
	n.parent = p
	p.Children = append(p.Children, n)
	t.register(n)
	t.emitLocked(Event{Kind: Inserted, Node: n.snapshot(), Media: mediaUnder(n, false)})
	return n.id, nil
}

// Remove detaches the element and its subtree.
func (t *Tree) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok || n == t.root {
		return fmt.Errorf("dom: cannot remove %s", id)
	}
	p := n.parent
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	t.unregister(n)
	return nil
}

// Element returns a snapshot of the element.
func (t *Tree) Element(id string) (Element, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return Element{}, false
	}
	return n.snapshot(), true
}

// Listened reports whether a volume listener is attached to the element.
func (t *Tree) Listened(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	return ok && n.listened
}

// SetMuted sets the element's muted flag. Muting fires no volume event.
func (t *Tree) SetMuted(id string, muted bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("dom: no element %s", id)
	}
	if !IsMediaTag(n.Tag) {
		return fmt.Errorf("dom: element %s is not media", id)
	}
	n.Muted = muted
	return nil
}

// ToggleMute mutes every media element, or unmutes them all when they
// already are, and reports the new state.
func (t *Tree) ToggleMute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	media := mediaUnder(t.root, true)
	mute := !AllMuted(media)
	for _, el := range media {
		t.nodes[el.ID].Muted = mute
	}
	return mute && len(media) > 0
}

// UserSetVolume changes an element's volume the way the page itself would
// (an embedded player's own slider).
func (t *Tree) UserSetVolume(id string, vol float64) error {
	return t.SetVolume(context.Background(), id, vol)
}

// SetSource changes the element's source and fires loadedmetadata then canplay.
func (t *Tree) SetSource(id, src string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("dom: no element %s", id)
	}
	n.Src, n.CurrentSrc = src, src
	t.emitLocked(Event{Kind: Loaded, Node: n.snapshot(), Signal: SignalLoadedMetadata})
	t.emitLocked(Event{Kind: Loaded, Node: n.snapshot(), Signal: SignalCanPlay})
	return nil
}

// PushState changes the URL without replacing the document.
func (t *Tree) PushState(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
	t.emitLocked(Event{Kind: Navigated, URL: url})
}

// Reload replaces the document with a new one at url holding children.
// Listeners from the old document are gone.
func (t *Tree) Reload(url string, children ...*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = url
	t.nodes = make(map[string]*Node)
	t.root = &Node{Tag: "HTML"}
	t.register(t.root)
	for _, c := range children {
		c.parent = t.root
		t.root.Children = append(t.root.Children, c)
		t.register(c)
	}
	t.emitLocked(Event{Kind: Reset, URL: url})
}

func (t *Tree) setVolumeLocked(n *Node, vol float64) {
	if n.Volume == vol {
		return
	}
	n.Volume = vol
	if n.listened {
		t.emitLocked(Event{Kind: VolumeChanged, Node: n.snapshot()})
	}
}

func (t *Tree) register(n *Node) {
	t.seq++
	n.id = "n" + strconv.Itoa(t.seq)
	n.listened = false
	if IsMediaTag(n.Tag) && n.Volume == 0 {
		n.Volume = 1
	}
	t.nodes[n.id] = n
	for _, c := range n.Children {
		c.parent = n
		t.register(c)
	}
}

func (t *Tree) unregister(n *Node) {
	delete(t.nodes, n.id)
	for _, c := range n.Children {
		t.unregister(c)
	}
}

// mediaUnder lists media nodes in n's subtree, n included when self is true.
func mediaUnder(n *Node, self bool) []Element {
	var out []Element
	var walk func(*Node, bool)
	walk = func(x *Node, include bool) {
		if include && IsMediaTag(x.Tag) {
			out = append(out, x.snapshot())
		}
		for _, c := range x.Children {
			walk(c, true)
		}
	}
	walk(n, self)
	return out
}

func (t *Tree) emitLocked(ev Event) {
	t.q.Push(ev)
}
