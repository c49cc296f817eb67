package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/toolfoundation/model"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
)

// ErrAdapterExists is returned when two adapters share a server id.
var ErrAdapterExists = errors.New("adapter already registered")

// Tool is one tool definition as reported by a backend's tools/list.
// Schema and annotations are kept raw; presentation layers flatten
// them as needed.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// Config configures a Registry.
type Config struct {
	// Adapters, in configuration order. Order decides route collisions:
	// the last adapter exposing a tool name owns the route.
	Adapters []adapter.Adapter

	// Index is an optional search index fed during discovery.
	// Default: index.NewInMemoryIndex().
	Index index.Index

	// Logger is an optional logger. Default: zap.NewNop().
	Logger *zap.Logger
}

// Registry routes tool calls to the adapter that owns each tool.
type Registry struct {
	adapters []adapter.Adapter
	byID     map[string]adapter.Adapter
	index    index.Index
	logger   *zap.Logger

	mu     sync.RWMutex
	routes map[string]adapter.Adapter
	tools  map[string][]Tool
	errs   map[string]error
}

// New creates a registry over the configured adapters. Routes are empty
// until Init runs discovery.
func New(cfg Config) (*Registry, error) {
	idx := cfg.Index
	if idx == nil {
		idx = index.NewInMemoryIndex()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	byID := make(map[string]adapter.Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if a.ID() == "" {
			return nil, fmt.Errorf("adapter id is required")
		}
		if _, exists := byID[a.ID()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrAdapterExists, a.ID())
		}
		byID[a.ID()] = a
	}

	return &Registry{
		adapters: cfg.Adapters,
		byID:     byID,
		index:    idx,
		logger:   logger,
		routes:   make(map[string]adapter.Adapter),
		tools:    make(map[string][]Tool),
		errs:     make(map[string]error),
	}, nil
}

// Init discovers tools on every adapter concurrently and builds the
// routing table. A failing adapter does not abort discovery; its error
// is recorded and the rest of the fleet stays routable. Init itself
// errors only on context cancellation.
func (r *Registry) Init(ctx context.Context) error {
	type outcome struct {
		tools []Tool
		err   error
	}
	outcomes := make([]outcome, len(r.adapters))

	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			tools, err := discover(ctx, a)
			outcomes[i] = outcome{tools: tools, err: err}
		}(i, a)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Apply in configuration order so collisions resolve the same way
	// on every run, regardless of which backend answered first.
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.adapters {
		out := outcomes[i]
		if out.err != nil {
			r.errs[a.ID()] = out.err
			r.logger.Warn("tool discovery failed",
				zap.String("server", a.ID()),
				zap.Error(out.err))
			continue
		}
		r.tools[a.ID()] = out.tools
		for _, t := range out.tools {
			if prev, clash := r.routes[t.Name]; clash {
				r.logger.Warn("tool name collision",
					zap.String("tool", t.Name),
					zap.String("loser", prev.ID()),
					zap.String("winner", a.ID()))
			}
			r.routes[t.Name] = a
			r.indexTool(a, t)
		}
		r.logger.Info("server discovered",
			zap.String("server", a.ID()),
			zap.Int("tools", len(out.tools)))
	}
	return nil
}

// discover lists one adapter's tools, treating error envelopes as
// discovery failures.
func discover(ctx context.Context, a adapter.Adapter) ([]Tool, error) {
	resp, err := a.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tools/list: %w", resp.Error)
	}

	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// indexTool registers one discovered tool into the search index.
// Indexing is best-effort; a rejected registration never fails
// discovery.
func (r *Registry) indexTool(a adapter.Adapter, t Tool) {
	// The index requires an input schema; backends may omit one.
	schema := map[string]any{"type": "object"}
	if len(t.InputSchema) > 0 {
		var parsed map[string]any
		if json.Unmarshal(t.InputSchema, &parsed) == nil && parsed != nil {
			schema = parsed
		}
	}
	err := r.index.RegisterTool(model.Tool{
		Tool: mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		},
		Namespace: a.ID(),
	}, model.NewMCPBackend(a.ID()))
	if err != nil {
		r.logger.Debug("index registration skipped",
			zap.String("server", a.ID()),
			zap.String("tool", t.Name),
			zap.Error(err))
	}
}

// Lookup returns the adapter owning the named tool.
func (r *Registry) Lookup(tool string) (adapter.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.routes[tool]
	return a, ok
}

// ByID returns the adapter with the given server id.
func (r *Registry) ByID(serverID string) (adapter.Adapter, bool) {
	a, ok := r.byID[serverID]
	return a, ok
}

// Adapters returns the fleet in configuration order.
func (r *Registry) Adapters() []adapter.Adapter {
	out := make([]adapter.Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Tools returns the discovered tool definitions for one server.
func (r *Registry) Tools(serverID string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[serverID]
}

// AllTools returns the discovered tool definitions keyed by server id.
func (r *Registry) AllTools() map[string][]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Tool, len(r.tools))
	for id, tools := range r.tools {
		out[id] = tools
	}
	return out
}

// ToolNames returns every routable tool name. Useful for not-found
// hints.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		out = append(out, name)
	}
	return out
}

// DiscoveryError returns the discovery failure recorded for a server,
// if any.
func (r *Registry) DiscoveryError(serverID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errs[serverID]
}

// Search queries the discovery index.
func (r *Registry) Search(query string, limit int) ([]index.Summary, error) {
	return r.index.Search(query, limit)
}

// Namespaces lists the index's namespaces, one per discovered server.
func (r *Registry) Namespaces() ([]string, error) {
	return r.index.ListNamespaces()
}

// Close stops every adapter. All adapters are closed even when some
// fail; their errors are joined.
func (r *Registry) Close() error {
	var errs []error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.ID(), err))
		}
	}
	return errors.Join(errs...)
}
