package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

type plainAdapter struct{}

func (p *plainAdapter) ID() string { return "plain" }
func (p *plainAdapter) Kind() Kind { return KindHTTP }
func (p *plainAdapter) ListTools(_ context.Context) (*rpc.Response, error) {
	return &rpc.Response{JSONRPC: rpc.Version}, nil
}
func (p *plainAdapter) CallTool(_ context.Context, _ string, _ map[string]any) (*rpc.Response, error) {
	return &rpc.Response{JSONRPC: rpc.Version}, nil
}
func (p *plainAdapter) Close() error { return nil }

type streamingAdapter struct {
	plainAdapter
}

func (s *streamingAdapter) StreamEvents(_ context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func TestAdapterContracts(t *testing.T) {
	var _ Adapter = (*plainAdapter)(nil)
	var _ Streamer = (*streamingAdapter)(nil)
}

func TestStreamEvents_CapabilityGap(t *testing.T) {
	_, err := StreamEvents(context.Background(), &plainAdapter{})
	if !errors.Is(err, ErrNoStreaming) {
		t.Errorf("StreamEvents() error = %v, want ErrNoStreaming", err)
	}
}

func TestStreamEvents_Supported(t *testing.T) {
	ch, err := StreamEvents(context.Background(), &streamingAdapter{})
	if err != nil {
		t.Fatalf("StreamEvents() error = %v", err)
	}
	if ch == nil {
		t.Fatal("StreamEvents() returned nil channel with nil error")
	}
}

func TestEvent_SSE(t *testing.T) {
	e := Event{Type: "progress", Data: []byte(`{"pct":50}`)}
	want := "event: progress\ndata: {\"pct\":50}\n\n"
	if e.SSE() != want {
		t.Errorf("SSE() = %q, want %q", e.SSE(), want)
	}
}
