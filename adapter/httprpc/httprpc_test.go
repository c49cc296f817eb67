package httprpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{ID: "remote", BaseURL: srv.URL + "/"})
}

func TestAdapter_ListTools(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call_tool" {
			t.Errorf("path = %q, want /call_tool", r.URL.Path)
		}
		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != rpc.MethodListTools {
			t.Errorf("method = %q, want %q", req.Method, rpc.MethodListTools)
		}
		if req.JSONRPC != rpc.Version {
			t.Errorf("jsonrpc = %q, want %q", req.JSONRPC, rpc.Version)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"result": map[string]any{"tools": []map[string]any{{"name": "search"}}},
		})
	})

	resp, err := a.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if resp.IsError() {
		t.Fatalf("ListTools() error envelope: %v", resp.Error)
	}
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Unmarshal(result) error = %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "search" {
		t.Errorf("tools = %+v, want [search]", result.Tools)
	}
}

func TestAdapter_CallTool(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Tool != "search" {
			t.Errorf("tool = %q, want %q", body.Tool, "search")
		}
		if body.Arguments["q"] != "golang" {
			t.Errorf("arguments = %v, want q=golang", body.Arguments)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"result": map[string]any{"hits": float64(3)},
		})
	})

	resp, err := a.CallTool(context.Background(), "search", map[string]any{"q": "golang"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if resp.IsError() {
		t.Fatalf("CallTool() error envelope: %v", resp.Error)
	}
}

func TestAdapter_CallTool_NilArguments(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if string(body["arguments"]) != "{}" {
			t.Errorf("arguments = %s, want {}", body["arguments"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}})
	})

	if _, err := a.CallTool(context.Background(), "noop", nil); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
}

func TestAdapter_CallTool_BackendError(t *testing.T) {
	// A JSON-RPC error inside a 200 response is an envelope, not a Go error.
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": 1,
			"error": map[string]any{"code": rpc.CodeMethodNotFound, "message": "no such tool"},
		})
	})

	resp, err := a.CallTool(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !resp.IsError() {
		t.Fatal("CallTool() should surface the backend error envelope")
	}
	if resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, rpc.CodeMethodNotFound)
	}
}

func TestAdapter_HTTPError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})

	_, err := a.CallTool(context.Background(), "search", nil)
	if !errors.Is(err, ErrHTTPStatus) {
		t.Errorf("CallTool() error = %v, want ErrHTTPStatus", err)
	}
}

func TestAdapter_NoStreaming(t *testing.T) {
	a := New(Config{ID: "remote", BaseURL: "http://localhost:9"})
	if _, err := adapter.StreamEvents(context.Background(), a); !errors.Is(err, adapter.ErrNoStreaming) {
		t.Errorf("StreamEvents() error = %v, want ErrNoStreaming", err)
	}
}

func TestAdapter_TrimsBaseURL(t *testing.T) {
	a := New(Config{ID: "remote", BaseURL: "http://example.com/api/"})
	if a.BaseURL() != "http://example.com/api" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", a.BaseURL())
	}
	if a.Kind() != adapter.KindHTTP {
		t.Errorf("Kind() = %q, want %q", a.Kind(), adapter.KindHTTP)
	}
}
