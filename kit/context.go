package kit

import "context"

type contextKey string

const (
	TabIDKey     contextKey = "kit_tab_id"
	TransportKey contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey contextKey = "kit_request_id"
)

// WithTabID records the tab the call originates from. Calls from the
// control surface carry no tab.
func WithTabID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, TabIDKey, id)
}

// GetTabID returns the sender tab, if any.
func GetTabID(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(TabIDKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
