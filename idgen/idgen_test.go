package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestShort(t *testing.T) {
	gen := Short(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if len(id) != 12 {
			t.Fatalf("length: %q", id)
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("unexpected character %q in %q", c, id)
			}
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7(t *testing.T) {
	id := New()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: %d", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("req_", Short(6))()
	if !strings.HasPrefix(id, "req_") || len(id) != 10 {
		t.Fatalf("prefixed: %q", id)
	}
}

func TestValid(t *testing.T) {
	for _, s := range []string{New(), "abc", "req_12-AB"} {
		if !Valid(s) {
			t.Errorf("%q rejected", s)
		}
	}
	for _, s := range []string{"", "a b", "x\ny", strings.Repeat("a", 65), "<script>"} {
		if Valid(s) {
			t.Errorf("%q accepted", s)
		}
	}
}
