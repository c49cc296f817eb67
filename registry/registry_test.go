package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

type mockAdapter struct {
	id       string
	tools    []string
	rawTools []map[string]any
	listErr  error
	listEnv  *rpc.Error
	delay    time.Duration
	closed   bool
	closeErr error
}

func (m *mockAdapter) ID() string         { return m.id }
func (m *mockAdapter) Kind() adapter.Kind { return adapter.KindHTTP }

func (m *mockAdapter) ListTools(ctx context.Context) (*rpc.Response, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.listEnv != nil {
		return rpc.NewErrorResponse(1, m.listEnv.Code, m.listEnv.Message), nil
	}
	tools := m.rawTools
	for _, name := range m.tools {
		tools = append(tools, map[string]any{
			"name":        name,
			"description": name + " tool",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	result, _ := json.Marshal(map[string]any{"tools": tools})
	return &rpc.Response{JSONRPC: rpc.Version, ID: rpc.NumericID(1), Result: result}, nil
}

func (m *mockAdapter) CallTool(_ context.Context, tool string, _ map[string]any) (*rpc.Response, error) {
	result, _ := json.Marshal(map[string]any{"tool": tool, "server": m.id})
	return &rpc.Response{JSONRPC: rpc.Version, ID: rpc.NumericID(1), Result: result}, nil
}

func (m *mockAdapter) Close() error {
	m.closed = true
	return m.closeErr
}

func newRegistry(t *testing.T, adapters ...adapter.Adapter) *Registry {
	t.Helper()
	r, err := New(Config{Adapters: adapters})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRegistry_InitRoutesTools(t *testing.T) {
	a := &mockAdapter{id: "files", tools: []string{"read_file", "write_file"}}
	r := newRegistry(t, a)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, ok := r.Lookup("read_file")
	if !ok {
		t.Fatal("Lookup(read_file) not found after discovery")
	}
	if got.ID() != "files" {
		t.Errorf("Lookup(read_file) routed to %q, want %q", got.ID(), "files")
	}
	if _, ok := r.Lookup("unknown"); ok {
		t.Error("Lookup(unknown) should report not found")
	}
	if len(r.Tools("files")) != 2 {
		t.Errorf("Tools(files) = %d entries, want 2", len(r.Tools("files")))
	}
}

func TestRegistry_PartialFailure(t *testing.T) {
	// One server down must not make the others unroutable.
	broken := &mockAdapter{id: "alpha", listErr: errors.New("spawn failed")}
	healthy := &mockAdapter{id: "beta", tools: []string{"ping"}}
	r := newRegistry(t, broken, healthy)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, ok := r.Lookup("ping")
	if !ok || got.ID() != "beta" {
		t.Fatalf("Lookup(ping) = %v, %v; want beta, true", got, ok)
	}
	if r.DiscoveryError("alpha") == nil {
		t.Error("DiscoveryError(alpha) = nil, want the recorded failure")
	}
	if r.DiscoveryError("beta") != nil {
		t.Errorf("DiscoveryError(beta) = %v, want nil", r.DiscoveryError("beta"))
	}
}

func TestRegistry_ErrorEnvelopeIsDiscoveryFailure(t *testing.T) {
	a := &mockAdapter{id: "alpha", listEnv: &rpc.Error{Code: rpc.CodeInternalError, Message: "timeout"}}
	r := newRegistry(t, a)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if r.DiscoveryError("alpha") == nil {
		t.Error("an error envelope from tools/list should be recorded as a discovery failure")
	}
	if len(r.Tools("alpha")) != 0 {
		t.Errorf("Tools(alpha) = %v, want none", r.Tools("alpha"))
	}
}

func TestRegistry_CollisionLastConfiguredWins(t *testing.T) {
	// The first-configured adapter answers last; configuration order must
	// still decide the route, not completion order.
	first := &mockAdapter{id: "first", tools: []string{"shared"}, delay: 150 * time.Millisecond}
	second := &mockAdapter{id: "second", tools: []string{"shared"}}
	r := newRegistry(t, first, second)

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, ok := r.Lookup("shared")
	if !ok {
		t.Fatal("Lookup(shared) not found")
	}
	if got.ID() != "second" {
		t.Errorf("Lookup(shared) routed to %q, want %q (last configured)", got.ID(), "second")
	}
}

func TestRegistry_DuplicateID(t *testing.T) {
	_, err := New(Config{Adapters: []adapter.Adapter{
		&mockAdapter{id: "dup"},
		&mockAdapter{id: "dup"},
	}})
	if !errors.Is(err, ErrAdapterExists) {
		t.Errorf("New() error = %v, want ErrAdapterExists", err)
	}
}

func TestRegistry_ByID(t *testing.T) {
	a := &mockAdapter{id: "files"}
	r := newRegistry(t, a)

	if got, ok := r.ByID("files"); !ok || got.ID() != "files" {
		t.Errorf("ByID(files) = %v, %v; want the adapter", got, ok)
	}
	if _, ok := r.ByID("missing"); ok {
		t.Error("ByID(missing) should report not found")
	}
}

func TestRegistry_CloseClosesAll(t *testing.T) {
	failing := &mockAdapter{id: "a", closeErr: errors.New("kill failed")}
	fine := &mockAdapter{id: "b"}
	r := newRegistry(t, failing, fine)

	err := r.Close()
	if err == nil {
		t.Fatal("Close() should surface the failing adapter's error")
	}
	if !failing.closed || !fine.closed {
		t.Error("Close() must attempt every adapter even when one fails")
	}
}

func TestRegistry_SearchAndNamespaces(t *testing.T) {
	a := &mockAdapter{id: "files", tools: []string{"read_file"}}
	r := newRegistry(t, a)
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	hits, err := r.Search("read_file", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Error("Search(read_file) returned no hits for a discovered tool")
	}

	namespaces, err := r.Namespaces()
	if err != nil {
		t.Fatalf("Namespaces() error = %v", err)
	}
	found := false
	for _, ns := range namespaces {
		if ns == "files" {
			found = true
		}
	}
	if !found {
		t.Errorf("Namespaces() = %v, want to include %q", namespaces, "files")
	}
}

func TestRegistry_IndexesSchemalessTools(t *testing.T) {
	// Backends are allowed to omit inputSchema from tools/list; such
	// tools must still land in the search index.
	a := &mockAdapter{id: "weather", rawTools: []map[string]any{
		{"name": "get_weather", "description": "Current conditions"},
	}}
	r := newRegistry(t, a)
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	namespaces, err := r.Namespaces()
	if err != nil {
		t.Fatalf("Namespaces() error = %v", err)
	}
	found := false
	for _, ns := range namespaces {
		if ns == "weather" {
			found = true
		}
	}
	if !found {
		t.Errorf("Namespaces() = %v, want to include %q", namespaces, "weather")
	}
}
