package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/tabvol/dom"
	"github.com/hazyhaar/tabvol/volstore"
)

var errRefused = errors.New("injection refused")

type fakeTab struct {
	tab     Tab
	tree    *dom.Tree
	refused bool
}

// fakeInjector runs the privileged scripts against in-memory documents.
type fakeInjector struct {
	mu     sync.Mutex
	tabs   []*fakeTab
	probes int
}

func (f *fakeInjector) add(t *testing.T, id int, url string, nodes ...*dom.Node) *dom.Tree {
	t.Helper()
	tree := dom.NewTree(url)
	t.Cleanup(tree.Close)
	for _, n := range nodes {
		if _, err := tree.Append(tree.Root(), n); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	f.mu.Lock()
	f.tabs = append(f.tabs, &fakeTab{tab: Tab{ID: id, Title: fmt.Sprintf("tab %d", id), URL: url}, tree: tree})
	f.mu.Unlock()
	return tree
}

func (f *fakeInjector) find(id int) (*fakeTab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ft := range f.tabs {
		if ft.tab.ID == id {
			if ft.refused {
				return nil, errRefused
			}
			return ft, nil
		}
	}
	return nil, fmt.Errorf("no tab %d", id)
}

func (f *fakeInjector) set(id int, fn func(*fakeTab)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ft := range f.tabs {
		if ft.tab.ID == id {
			fn(ft)
		}
	}
}

func (f *fakeInjector) SetMediaVolume(ctx context.Context, id int, vol float64) (int, error) {
	ft, err := f.find(id)
	if err != nil {
		return 0, err
	}
	return dom.SetAll(ctx, ft.tree, vol)
}

func (f *fakeInjector) ProbeMedia(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	ft, err := f.find(id)
	if err != nil {
		return false, err
	}
	return dom.Probe(ctx, ft.tree)
}

func (f *fakeInjector) ToggleMute(_ context.Context, id int) (bool, error) {
	ft, err := f.find(id)
	if err != nil {
		return false, err
	}
	return ft.tree.ToggleMute(), nil
}

func (f *fakeInjector) Tabs(ctx context.Context) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Tab, 0, len(f.tabs))
	for _, ft := range f.tabs {
		tab := ft.tab
		if media, err := ft.tree.Media(ctx); err == nil {
			tab.Muted = dom.AllMuted(media)
		}
		out = append(out, tab)
	}
	return out, nil
}

func (f *fakeInjector) Tab(_ context.Context, id int) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ft := range f.tabs {
		if ft.tab.ID == id {
			return ft.tab, nil
		}
	}
	return Tab{}, fmt.Errorf("no tab %d", id)
}

func (f *fakeInjector) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func newCoordinator(t *testing.T, rate float64) (*Coordinator, *fakeInjector, *volstore.Store) {
	t.Helper()
	inj := &fakeInjector{}
	store := volstore.OpenMemory(t)
	return New(Config{Injector: inj, Store: store, PreviewRate: rate}), inj, store
}

// waitVolumes waits until every media element of tree is at want.
func waitVolumes(t *testing.T, tree *dom.Tree, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		done := true
		for _, v := range mediaVolumes(t, tree) {
			if v != want {
				done = false
			}
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("volumes: got %v, want all %v", mediaVolumes(t, tree), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mediaVolumes(t *testing.T, tree *dom.Tree) []float64 {
	t.Helper()
	media, err := tree.Media(context.Background())
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	out := make([]float64, len(media))
	for i, el := range media {
		out[i] = el.Volume
	}
	return out
}

func TestSetVolumeInjectsAllMedia(t *testing.T) {
	c, inj, store := newCoordinator(t, -1)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"), dom.Div(dom.Video("v.mp4")))

	resp, err := c.Handle(context.Background(), Sender{}, SetVolume{TabID: 1, Volume: 0.3})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp != (StatusResponse{Status: StatusVolumeSet}) {
		t.Fatalf("response: %+v", resp)
	}
	for _, v := range mediaVolumes(t, tree) {
		if v != 0.3 {
			t.Fatalf("volumes: %v", mediaVolumes(t, tree))
		}
	}

	v, _ := store.Get(context.Background())
	if len(v) != 0 {
		t.Fatalf("preview persisted: %v", v)
	}
}

func TestSetVolumeRefusedIsAbsorbed(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"))
	inj.set(1, func(ft *fakeTab) { ft.refused = true })

	resp, err := c.Handle(context.Background(), Sender{}, SetVolume{TabID: 1, Volume: 0.3})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.(StatusResponse).Status != StatusVolumeSet {
		t.Fatalf("response: %+v", resp)
	}
}

func TestSetVolumeClampsAndRejectsNaN(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"))

	if _, err := c.SetVolume(context.Background(), 1, 4); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := mediaVolumes(t, tree)[0]; v != 1 {
		t.Fatalf("volume: got %v, want 1", v)
	}
	if _, err := c.SetVolume(context.Background(), 1, -2); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := mediaVolumes(t, tree)[0]; v != 0 {
		t.Fatalf("volume: got %v, want 0", v)
	}
	if _, err := c.SetVolume(context.Background(), 1, math.NaN()); !errors.Is(err, volstore.ErrInvalidVolume) {
		t.Fatalf("NaN: got %v", err)
	}
}

func TestSetVolumeQueuesPreviewsPerTab(t *testing.T) {
	c, inj, _ := newCoordinator(t, 5)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"))
	inj.add(t, 2, "http://example.com/", dom.Audio("a.mp3"))
	ctx := context.Background()

	first, _ := c.SetVolume(ctx, 1, 0.5)
	second, _ := c.SetVolume(ctx, 1, 0.6)
	other, _ := c.SetVolume(ctx, 2, 0.6)
	if first.Status != StatusVolumeSet || second.Status != StatusVolumeQueued || other.Status != StatusVolumeSet {
		t.Fatalf("statuses: %q %q %q", first.Status, second.Status, other.Status)
	}
	if v := mediaVolumes(t, tree)[0]; v != 0.5 {
		t.Fatalf("queued value injected early: %v", v)
	}
	waitVolumes(t, tree, 0.6)
}

func TestSetVolumeBurstEndsOnLastValue(t *testing.T) {
	c, inj, _ := newCoordinator(t, 0)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"), dom.Video("v.mp4"))
	ctx := context.Background()

	for _, v := range []float64{0.9, 0.7, 0.5, 0.3} {
		if _, err := c.SetVolume(ctx, 1, v); err != nil {
			t.Fatalf("set %v: %v", v, err)
		}
	}
	waitVolumes(t, tree, 0.3)

	// Nothing older lands afterwards.
	time.Sleep(100 * time.Millisecond)
	for _, v := range mediaVolumes(t, tree) {
		if v != 0.3 {
			t.Fatalf("volumes after settle: %v", mediaVolumes(t, tree))
		}
	}
}

func TestCommitDiscardsQueuedPreview(t *testing.T) {
	c, inj, _ := newCoordinator(t, 5)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"))
	ctx := context.Background()

	c.SetVolume(ctx, 1, 0.5)
	if resp, _ := c.SetVolume(ctx, 1, 0.6); resp.Status != StatusVolumeQueued {
		t.Fatalf("second preview: %q", resp.Status)
	}
	commit, _ := c.CommitVolume(ctx, 1, 0.7)
	if commit.Status != StatusVolumeSet {
		t.Fatalf("commit: %q", commit.Status)
	}

	time.Sleep(400 * time.Millisecond)
	if v := mediaVolumes(t, tree)[0]; v != 0.7 {
		t.Fatalf("volume after commit: got %v, want 0.7", v)
	}
}

func TestForgetDropsPreviewState(t *testing.T) {
	c, inj, _ := newCoordinator(t, 5)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"))
	ctx := context.Background()

	c.SetVolume(ctx, 1, 0.5)
	c.SetVolume(ctx, 1, 0.6)
	c.Forget(1)

	time.Sleep(400 * time.Millisecond)
	if v := mediaVolumes(t, tree)[0]; v != 0.5 {
		t.Fatalf("queued preview landed after forget: %v", v)
	}
	again, _ := c.SetVolume(ctx, 1, 0.8)
	if again.Status != StatusVolumeSet {
		t.Fatalf("after forget: %q", again.Status)
	}
}

func TestToggleMute(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	tree := inj.add(t, 1, "http://example.com/", dom.Audio("a.mp3"), dom.Video("v.mp4"))
	inj.add(t, 2, "http://empty.test/")
	inj.add(t, 3, "http://gone.test/", dom.Audio("a.mp3"))
	inj.set(3, func(ft *fakeTab) { ft.refused = true })
	ctx := context.Background()

	resp, err := c.Handle(ctx, Sender{}, ToggleMute{TabID: 1})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !resp.(MuteResponse).Muted {
		t.Fatal("first toggle did not mute")
	}
	media, _ := tree.Media(ctx)
	if !dom.AllMuted(media) {
		t.Fatalf("media: %+v", media)
	}
	tabs, _ := inj.Tabs(ctx)
	if !tabs[0].Muted || tabs[1].Muted {
		t.Fatalf("tab state: %+v", tabs)
	}

	if c.ToggleMute(ctx, 1).Muted {
		t.Fatal("second toggle did not unmute")
	}
	media, _ = tree.Media(ctx)
	if dom.AllMuted(media) || media[0].Muted || media[1].Muted {
		t.Fatalf("media after unmute: %+v", media)
	}

	// A partly muted tab mutes everything.
	tree.SetMuted(media[0].ID, true)
	if !c.ToggleMute(ctx, 1).Muted {
		t.Fatal("partly muted tab not muted")
	}

	if c.ToggleMute(ctx, 2).Muted || c.ToggleMute(ctx, 3).Muted {
		t.Fatal("tab without media or refused tab reported muted")
	}
}

func TestCommitVolumeWritesOriginAndSession(t *testing.T) {
	c, inj, store := newCoordinator(t, -1)
	tree := inj.add(t, 12, "http://example.com/watch?v=1", dom.Audio("a.mp3"))

	if _, err := c.Handle(context.Background(), Sender{}, CommitVolume{TabID: 12, Volume: 0.4}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v := mediaVolumes(t, tree)[0]; v != 0.4 {
		t.Fatalf("volume: %v", v)
	}
	v, err := store.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v["http://example.com"] != 0.4 || v["12"] != 0.4 {
		t.Fatalf("store: %v", v)
	}
}

func TestCommitVolumeNonHTTPWritesSessionOnly(t *testing.T) {
	c, inj, store := newCoordinator(t, -1)
	inj.add(t, 3, "file:///home/me/song.html", dom.Audio("song.mp3"))

	if _, err := c.CommitVolume(context.Background(), 3, 0.2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	v, _ := store.Get(context.Background())
	if len(v) != 1 || v["3"] != 0.2 {
		t.Fatalf("store: %v", v)
	}
}

func TestCommitVolumeUnknownTabWritesNothing(t *testing.T) {
	c, _, store := newCoordinator(t, -1)

	resp, err := c.CommitVolume(context.Background(), 99, 0.2)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if resp.Status != StatusVolumeSet {
		t.Fatalf("status: %q", resp.Status)
	}
	v, _ := store.Get(context.Background())
	if len(v) != 0 {
		t.Fatalf("store: %v", v)
	}
}

func TestGetTabID(t *testing.T) {
	c, _, _ := newCoordinator(t, -1)

	resp, _ := c.Handle(context.Background(), Sender{TabID: 5}, GetTabID{})
	if id := resp.(TabIDResponse).TabID; id == nil || *id != 5 {
		t.Fatalf("tab id: %v", id)
	}
	resp, _ = c.Handle(context.Background(), Sender{}, GetTabID{})
	if id := resp.(TabIDResponse).TabID; id != nil {
		t.Fatalf("control surface tab id: %d", *id)
	}

	if id, err := c.For(Sender{TabID: 8}).TabID(context.Background()); err != nil || id != 8 {
		t.Fatalf("page client: %d %v", id, err)
	}
	if _, err := c.For(Sender{}).TabID(context.Background()); !errors.Is(err, ErrNoTab) {
		t.Fatalf("page client without tab: %v", err)
	}
}

func TestProbeMedia(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	inj.add(t, 1, "http://a.test/", dom.Video(""))
	inj.add(t, 2, "http://b.test/", dom.Div(dom.Video("clip.mp4")))
	inj.add(t, 3, "http://c.test/")
	inj.add(t, 4, "http://d.test/", dom.Audio("x.mp3"))
	inj.set(4, func(ft *fakeTab) { ft.refused = true })

	cases := map[int]bool{1: false, 2: true, 3: false, 4: false, 5: false}
	for id, want := range cases {
		resp, err := c.Handle(context.Background(), Sender{}, ProbeMedia{TabID: id})
		if err != nil {
			t.Fatalf("probe %d: %v", id, err)
		}
		if got := resp.(ProbeResponse).HasMedia; got != want {
			t.Errorf("probe tab %d: got %v, want %v", id, got, want)
		}
	}
}

func TestProbeMediaWhitespaceSource(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	n := dom.Audio("   ")
	inj.add(t, 1, "http://a.test/", n)

	if c.ProbeMedia(context.Background(), 1).HasMedia {
		t.Fatal("whitespace source counted as media")
	}
}

func TestListMediaTabs(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	inj.add(t, 1, "http://a.test/", dom.Audio("a.mp3"))
	inj.add(t, 2, "http://b.test/")
	inj.add(t, 3, "http://c.test/")
	inj.add(t, 4, "http://d.test/", dom.Video("v.mp4"))
	inj.add(t, 5, "http://e.test/", dom.Video("v.mp4"))
	inj.set(3, func(ft *fakeTab) { ft.tab.Audible = true })
	inj.set(5, func(ft *fakeTab) { ft.refused = true })

	resp, err := c.Handle(context.Background(), Sender{}, ListMediaTabs{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	tabs := resp.(TabsResponse).Tabs
	var ids []int
	for _, tab := range tabs {
		ids = append(ids, tab.ID)
	}
	if fmt.Sprint(ids) != "[1 3 4]" {
		t.Fatalf("tabs: %v", ids)
	}
	// The audible tab is not probed.
	if n := inj.probeCount(); n != 4 {
		t.Fatalf("probes: got %d, want 4", n)
	}
}

type bogus struct{}

func (bogus) action() string { return "bogus" }

func TestHandleUnknownRequest(t *testing.T) {
	c, _, _ := newCoordinator(t, -1)
	if _, err := c.Handle(context.Background(), Sender{}, bogus{}); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		in   string
		want Request
	}{
		{`{"action":"setVolume","tabId":3,"volume":0.5}`, SetVolume{TabID: 3, Volume: 0.5}},
		{`{"action":"commitVolume","tabId":3,"volume":0.25}`, CommitVolume{TabID: 3, Volume: 0.25}},
		{`{"action":"getTabId"}`, GetTabID{}},
		{`{"action":"probeMedia","tabId":9}`, ProbeMedia{TabID: 9}},
		{`{"action":"listMediaTabs"}`, ListMediaTabs{}},
		{`{"action":"toggleMute","tabId":4}`, ToggleMute{TabID: 4}},
	}
	for _, tt := range tests {
		got, err := DecodeRequest([]byte(tt.in))
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.in, got, tt.want)
		}
		if Action(got) != Action(tt.want) {
			t.Errorf("%s: action %q", tt.in, Action(got))
		}
	}

	if _, err := DecodeRequest([]byte(`{"action":"mute"}`)); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("unknown action: %v", err)
	}
	if _, err := DecodeRequest([]byte(`nope`)); err == nil {
		t.Fatal("expected decode error")
	}
}
