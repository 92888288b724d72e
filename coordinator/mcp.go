package coordinator

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tabvol/kit"
)

// RegisterMCP registers the tabvol tools on an MCP server.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerListTool(srv)
	c.registerProbeTool(srv)
	c.registerSetTool(srv)
	c.registerCommitTool(srv)
	c.registerMuteTool(srv)
	c.registerVolumesTool(srv)
}

// MCPHandler serves srv over streamable HTTP.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	tabIDProp  = map[string]any{"type": "integer", "description": "Tab id as returned by tabvol_list_media_tabs"}
	volumeProp = map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "Volume between 0 and 1"}
)

type tabArgs struct {
	TabID int `json:"tab_id"`
}

type volumeArgs struct {
	TabID  int     `json:"tab_id"`
	Volume float64 `json:"volume"`
}

func (c *Coordinator) endpoint(name string, fn kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(c.logger, name))(fn)
}

func (c *Coordinator) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_list_media_tabs",
		Description: "List browser tabs that are playing or hold audio/video media.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Handle(ctx, Sender{}, ListMediaTabs{})
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

func (c *Coordinator) registerProbeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_probe_media",
		Description: "Check whether a tab has an audio or video element with a source.",
		InputSchema: inputSchema(map[string]any{"tab_id": tabIDProp}, []string{"tab_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*tabArgs)
		return c.Handle(ctx, Sender{}, ProbeMedia{TabID: r.TabID})
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[tabArgs](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

func (c *Coordinator) registerSetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_set_volume",
		Description: "Set the volume of every media element in a tab without saving it.",
		InputSchema: inputSchema(map[string]any{"tab_id": tabIDProp, "volume": volumeProp}, []string{"tab_id", "volume"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*volumeArgs)
		return c.Handle(ctx, Sender{}, SetVolume{TabID: r.TabID, Volume: r.Volume})
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeVolume)
}

func (c *Coordinator) registerCommitTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_commit_volume",
		Description: "Set the volume of a tab and remember it for the tab's site and session.",
		InputSchema: inputSchema(map[string]any{"tab_id": tabIDProp, "volume": volumeProp}, []string{"tab_id", "volume"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*volumeArgs)
		return c.Handle(ctx, Sender{}, CommitVolume{TabID: r.TabID, Volume: r.Volume})
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decodeVolume)
}

func (c *Coordinator) registerMuteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_toggle_mute",
		Description: "Mute every media element in a tab, or unmute them if all are muted.",
		InputSchema: inputSchema(map[string]any{"tab_id": tabIDProp}, []string{"tab_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*tabArgs)
		return c.Handle(ctx, Sender{}, ToggleMute{TabID: r.TabID})
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[tabArgs](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

func (c *Coordinator) registerVolumesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "tabvol_volumes",
		Description: "Show the saved volumes, keyed by site origin or tab id.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Volumes(ctx)
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

func decodeVolume(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	r, err := kit.DecodeArgs[volumeArgs](req)
	if err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}
