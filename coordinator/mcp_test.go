package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tabvol/dom"
)

var testMCPImpl = &mcp.Implementation{Name: "tabvol-test", Version: "0.1.0"}

func mcpSession(t *testing.T, c *Coordinator) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	c.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_ListTools(t *testing.T) {
	c, _, _ := newCoordinator(t, -1)
	session := mcpSession(t, c)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		"tabvol_list_media_tabs": true,
		"tabvol_probe_media":     true,
		"tabvol_set_volume":      true,
		"tabvol_commit_volume":   true,
		"tabvol_toggle_mute":     true,
		"tabvol_volumes":         true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}

func TestMCP_CommitFlow(t *testing.T) {
	c, inj, _ := newCoordinator(t, -1)
	tree := inj.add(t, 2, "https://radio.test/live", dom.Audio("stream.mp3"))
	inj.add(t, 3, "https://blank.test/")
	session := mcpSession(t, c)

	var list TabsResponse
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "tabvol_list_media_tabs", map[string]any{})), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tabs) != 1 || list.Tabs[0].ID != 2 {
		t.Fatalf("tabs: %+v", list.Tabs)
	}

	var probe ProbeResponse
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "tabvol_probe_media", map[string]any{"tab_id": 3})), &probe); err != nil {
		t.Fatal(err)
	}
	if probe.HasMedia {
		t.Fatal("blank tab has media")
	}

	var status StatusResponse
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "tabvol_set_volume", map[string]any{"tab_id": 2, "volume": 0.2})), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != StatusVolumeSet || mediaVolumes(t, tree)[0] != 0.2 {
		t.Fatalf("set: %+v %v", status, mediaVolumes(t, tree))
	}

	mcpCallTool(t, session, "tabvol_commit_volume", map[string]any{"tab_id": 2, "volume": 0.6})

	var mute MuteResponse
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "tabvol_toggle_mute", map[string]any{"tab_id": 2})), &mute); err != nil {
		t.Fatal(err)
	}
	if media, _ := tree.Media(context.Background()); !mute.Muted || !media[0].Muted {
		t.Fatalf("mute: %+v %+v", mute, media)
	}

	var vols map[string]float64
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "tabvol_volumes", map[string]any{})), &vols); err != nil {
		t.Fatal(err)
	}
	if vols["https://radio.test"] != 0.6 || vols["2"] != 0.6 {
		t.Fatalf("volumes: %v", vols)
	}
}

func TestMCP_BadArguments(t *testing.T) {
	c, _, _ := newCoordinator(t, -1)
	session := mcpSession(t, c)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "tabvol_set_volume",
		Arguments: map[string]any{"tab_id": "two", "volume": 0.5},
	})
	if err != nil {
		// Schema validation may reject the call before it reaches the tool.
		return
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
}
