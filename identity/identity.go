// Package identity derives the keys under which a tab's volume is persisted.
//
// A page has two possible identities: its origin (scheme + host, only for
// http and https pages), which survives reloads and restarts, and its tab
// session id, which lives as long as the tab. When both are known the origin
// wins.
package identity

import (
	"net/url"
	"strconv"
	"strings"
)

// Identity is the resolved identity of one page.
type Identity struct {
	// Origin is "scheme://host[:port]" for http(s) pages, empty otherwise.
	Origin string
	// TabID is the session identifier assigned by the host. 0 means unknown.
	TabID int
}

// New builds an Identity from a page URL and a tab session id.
func New(pageURL string, tabID int) Identity {
	origin, _ := Origin(pageURL)
	return Identity{Origin: origin, TabID: tabID}
}

// Origin returns the origin of rawURL when its scheme is http or https,
// serialised like a browser's location.origin: lowercase host, default port
// dropped.
func Origin(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host += ":" + port
	}
	return u.Scheme + "://" + host, true
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// SessionKey is the storage key for a tab session id.
func SessionKey(tabID int) string {
	return strconv.Itoa(tabID)
}

// HasOrigin reports whether the page has a durable origin key.
func (id Identity) HasOrigin() bool { return id.Origin != "" }

// HasSession reports whether the tab session id is known.
func (id Identity) HasSession() bool { return id.TabID > 0 }

// Resolved reports whether the identity can be used at all.
func (id Identity) Resolved() bool { return id.HasSession() }

// Keys returns the storage keys in precedence order: origin, then session.
func (id Identity) Keys() []string {
	keys := make([]string, 0, 2)
	if id.HasOrigin() {
		keys = append(keys, id.Origin)
	}
	if id.HasSession() {
		keys = append(keys, SessionKey(id.TabID))
	}
	return keys
}

// WithURL returns a copy of id with the origin recomputed from pageURL.
// The session id is kept.
func (id Identity) WithURL(pageURL string) Identity {
	return New(pageURL, id.TabID)
}

func (id Identity) String() string {
	if id.HasOrigin() {
		return id.Origin
	}
	if id.HasSession() {
		return "tab:" + SessionKey(id.TabID)
	}
	return "unresolved"
}
