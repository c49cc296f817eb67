// Package httprpc implements the HTTP adapter: JSON-RPC over one POST
// per call to a remote tool server, with no process to manage and no
// persistent connection.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

// ErrHTTPStatus is returned when the backend answers with a non-2xx
// status. HTTP-level failures are transport errors, never swallowed.
var ErrHTTPStatus = errors.New("backend returned HTTP error")

// DefaultTimeout bounds each HTTP exchange.
const DefaultTimeout = 10 * time.Second

// callPath is the generic tool-invocation endpoint on the backend.
const callPath = "/call_tool"

// Config configures an HTTP adapter.
type Config struct {
	// ID is the unique server id.
	ID string

	// BaseURL is the backend's base URL; a trailing slash is trimmed.
	BaseURL string

	// Client is an optional HTTP client. Default: a client with
	// DefaultTimeout.
	Client *http.Client

	// Logger is an optional logger. Default: zap.NewNop().
	Logger *zap.Logger
}

// Adapter speaks JSON-RPC to a remote HTTP endpoint.
type Adapter struct {
	id      string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	nextID  atomic.Int64
}

// New creates an HTTP adapter.
func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		id:      cfg.ID,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger.With(zap.String("server", cfg.ID)),
	}
}

// ID implements adapter.Adapter.
func (a *Adapter) ID() string { return a.id }

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() adapter.Kind { return adapter.KindHTTP }

// BaseURL returns the backend's base URL.
func (a *Adapter) BaseURL() string { return a.baseURL }

// ListTools implements adapter.Adapter by posting a tools/list JSON-RPC
// envelope to the generic invocation endpoint.
func (a *Adapter) ListTools(ctx context.Context) (*rpc.Response, error) {
	return a.post(ctx, rpc.NewListToolsRequest(a.nextID.Add(1)))
}

// CallTool implements adapter.Adapter by posting {tool, arguments} and
// returning the parsed JSON body.
func (a *Adapter) CallTool(ctx context.Context, tool string, arguments map[string]any) (*rpc.Response, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return a.post(ctx, map[string]any{"tool": tool, "arguments": arguments})
}

// Close implements adapter.Adapter. There is no connection state to
// release.
func (a *Adapter) Close() error { return nil }

// post sends one JSON body to the backend and decodes the response
// envelope.
func (a *Adapter) post(ctx context.Context, body any) (*rpc.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+callPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", a.baseURL+callPath, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		a.logger.Warn("backend HTTP error",
			zap.Int("status", httpResp.StatusCode),
			zap.ByteString("body", data))
		return nil, fmt.Errorf("%w: %d from %s", ErrHTTPStatus, httpResp.StatusCode, a.baseURL)
	}

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

var _ adapter.Adapter = (*Adapter)(nil)
