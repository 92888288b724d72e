package browser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tabvol/dom"
)

func TestTabsRegistry(t *testing.T) {
	tabs := NewTabs(NewManager(Config{}), nil)

	a := tabs.Register("target-a")
	b := tabs.Register("target-b")
	if a <= 0 || b <= 0 || a == b {
		t.Fatalf("ids: %d %d", a, b)
	}
	if again := tabs.Register("target-a"); again != a {
		t.Fatalf("re-register: got %d, want %d", again, a)
	}
	if target, ok := tabs.Target(b); !ok || target != proto.TargetTargetID("target-b") {
		t.Fatalf("target(%d): %q %v", b, target, ok)
	}

	id, ok := tabs.Unregister("target-a")
	if !ok || id != a {
		t.Fatalf("unregister: %d %v", id, ok)
	}
	if _, ok := tabs.ID("target-a"); ok {
		t.Fatal("target-a still registered")
	}
	if got, ok := tabs.ID("target-b"); !ok || got != b {
		t.Fatalf("target-b: %d %v", got, ok)
	}

	// Ids are never reused.
	if c := tabs.Register("target-a"); c == a || c == b {
		t.Fatalf("reused id %d", c)
	}
}

func TestInjectorWithoutBrowser(t *testing.T) {
	mgr := NewManager(Config{})
	tabs := NewTabs(mgr, nil)
	ctx := context.Background()

	if _, err := tabs.Tabs(ctx); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("tabs: %v", err)
	}
	if _, err := tabs.SetMediaVolume(ctx, 1, 0.5); err == nil {
		t.Fatal("set volume on unknown tab succeeded")
	}
	id := tabs.Register("t")
	if _, err := tabs.ProbeMedia(ctx, id); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("probe: %v", err)
	}
	if _, err := tabs.ToggleMute(ctx, id); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("toggle mute: %v", err)
	}
	if _, err := mgr.Open(ctx, "about:blank"); !errors.Is(err, ErrNoBrowser) {
		t.Fatalf("open: %v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    dom.EventKind
		media   int
		signal  string
	}{
		{"inserted", `{"type":"inserted","node":{"id":"e1","tag":"DIV"},"media":[{"id":"e2","tag":"VIDEO","volume":1,"src":"a.mp4"}]}`, dom.Inserted, 1, ""},
		{"inserted media", `{"type":"inserted","node":{"id":"e3","tag":"AUDIO","volume":0.5},"media":[]}`, dom.Inserted, 0, ""},
		{"loaded", `{"type":"loaded","signal":"canplay","node":{"id":"e2","tag":"VIDEO"}}`, dom.Loaded, 0, dom.SignalCanPlay},
		{"volume", `{"type":"volume","node":{"id":"e2","tag":"VIDEO","volume":0.25}}`, dom.VolumeChanged, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeMessage(tt.payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Kind != tt.want || len(ev.Media) != tt.media || ev.Signal != tt.signal {
				t.Fatalf("event: %+v", ev)
			}
		})
	}

	ev, _ := decodeMessage(`{"type":"volume","node":{"id":"e9","tag":"AUDIO","volume":0.25,"muted":true,"currentSrc":"x.mp3"}}`)
	if !ev.Node.IsMedia() || ev.Node.Volume != 0.25 || !ev.Node.Muted || !ev.Node.HasSource() {
		t.Fatalf("node: %+v", ev.Node)
	}

	for _, bad := range []string{
		`{"type":"mystery","node":{"id":"e1"}}`,
		`{"type":"loaded","signal":"play","node":{"id":"e1"}}`,
		`{"type":"volume"}`,
		`not json`,
	} {
		if _, err := decodeMessage(bad); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestBridgeScript(t *testing.T) {
	if !strings.Contains(bridgeJS, bindingName) {
		t.Fatal("bridge does not call the binding")
	}
	for _, want := range []string{"media()", "set(id, v)", "listen(id)", "MutationObserver", "loadedmetadata", "canplay"} {
		if !strings.Contains(bridgeJS, want) {
			t.Errorf("bridge lacks %q", want)
		}
	}
	// Load signals are captured once on the document, not per element.
	if !strings.Contains(bridgeJS, "document.addEventListener(signal") || !strings.Contains(bridgeJS, "}, true);") {
		t.Error("bridge does not capture load signals on the document")
	}
	if strings.Count(bridgeJS, "addEventListener") != 2 {
		t.Errorf("bridge listeners: %d", strings.Count(bridgeJS, "addEventListener"))
	}
}
