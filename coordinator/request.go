package coordinator

import (
	"encoding/json"
	"fmt"
)

// Request is one of SetVolume, CommitVolume, GetTabID, ProbeMedia,
// ListMediaTabs or ToggleMute. The set is closed: only this package can add
// variants.
type Request interface {
	action() string
}

// SetVolume sets every media element of a tab to Volume, live only.
type SetVolume struct {
	TabID  int     `json:"tabId"`
	Volume float64 `json:"volume"`
}

// CommitVolume sets the tab's media elements and persists Volume for the
// tab's origin and session.
type CommitVolume struct {
	TabID  int     `json:"tabId"`
	Volume float64 `json:"volume"`
}

// GetTabID asks for the sender's own tab id.
type GetTabID struct{}

// ProbeMedia asks whether a tab holds playable media.
type ProbeMedia struct {
	TabID int `json:"tabId"`
}

// ListMediaTabs asks for every tab that has media.
type ListMediaTabs struct{}

// ToggleMute mutes or unmutes every media element of a tab.
type ToggleMute struct {
	TabID int `json:"tabId"`
}

func (SetVolume) action() string     { return ActionSetVolume }
func (CommitVolume) action() string  { return ActionCommitVolume }
func (GetTabID) action() string      { return ActionGetTabID }
func (ProbeMedia) action() string    { return ActionProbeMedia }
func (ListMediaTabs) action() string { return ActionListMediaTabs }
func (ToggleMute) action() string    { return ActionToggleMute }

// Wire names of the request variants.
const (
	ActionSetVolume     = "setVolume"
	ActionCommitVolume  = "commitVolume"
	ActionGetTabID      = "getTabId"
	ActionProbeMedia    = "probeMedia"
	ActionListMediaTabs = "listMediaTabs"
	ActionToggleMute    = "toggleMute"
)

// Action returns the wire name of req.
func Action(req Request) string { return req.action() }

// Response is one of StatusResponse, TabIDResponse, ProbeResponse,
// TabsResponse or MuteResponse.
type Response interface {
	response()
}

// StatusResponse acknowledges SetVolume and CommitVolume.
type StatusResponse struct {
	Status string `json:"status"`
}

// TabIDResponse answers GetTabID. TabID is nil when the sender has no tab.
type TabIDResponse struct {
	TabID *int `json:"tabId"`
}

// ProbeResponse answers ProbeMedia.
type ProbeResponse struct {
	HasMedia bool `json:"hasMedia"`
}

// TabsResponse answers ListMediaTabs.
type TabsResponse struct {
	Tabs []Tab `json:"tabs"`
}

// MuteResponse answers ToggleMute with the tab's new state.
type MuteResponse struct {
	Muted bool `json:"muted"`
}

func (StatusResponse) response() {}
func (TabIDResponse) response()  {}
func (ProbeResponse) response()  {}
func (TabsResponse) response()   {}
func (MuteResponse) response()   {}

// Status values.
const (
	StatusVolumeSet    = "Volume set"
	StatusVolumeQueued = "Volume queued"
)

// DecodeRequest decodes a message envelope {"action": "...", ...fields}.
func DecodeRequest(data []byte) (Request, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("coordinator: decode envelope: %w", err)
	}

	var req Request
	switch env.Action {
	case ActionSetVolume:
		var r SetVolume
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("coordinator: decode %s: %w", env.Action, err)
		}
		req = r
	case ActionCommitVolume:
		var r CommitVolume
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("coordinator: decode %s: %w", env.Action, err)
		}
		req = r
	case ActionGetTabID:
		req = GetTabID{}
	case ActionProbeMedia:
		var r ProbeMedia
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("coordinator: decode %s: %w", env.Action, err)
		}
		req = r
	case ActionListMediaTabs:
		req = ListMediaTabs{}
	case ActionToggleMute:
		var r ToggleMute
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("coordinator: decode %s: %w", env.Action, err)
		}
		req = r
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, env.Action)
	}
	return req, nil
}
