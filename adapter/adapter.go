package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

// Common errors for adapter operations.
var (
	ErrServerNotFound = errors.New("server not found")
	ErrToolNotFound   = errors.New("tool not found")
	ErrNoStreaming    = errors.New("adapter does not support event streaming")
)

// Kind identifies the transport an adapter speaks.
type Kind string

// Adapter kinds.
const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
)

// Adapter is the uniform contract over one backend tool server.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Errors: expected backend conditions (timeout, backend-reported error)
//   are returned as envelopes, not Go errors; the error return is reserved
//   for transport faults the adapter cannot express as an envelope.
type Adapter interface {
	// ID returns the unique server id, immutable for the adapter's lifetime.
	ID() string

	// Kind returns the adapter's transport kind.
	Kind() Kind

	// ListTools issues tools/list and returns the backend's envelope.
	// Callers inspect result.tools or error on the envelope.
	ListTools(ctx context.Context) (*rpc.Response, error)

	// CallTool issues tools/call for the named tool. Arguments have no
	// required shape; invalid shapes are a backend-reported error, not a
	// gateway error.
	CallTool(ctx context.Context, tool string, arguments map[string]any) (*rpc.Response, error)

	// Close releases the adapter's resources. For process adapters this
	// terminates the child process.
	Close() error
}

// Event is one backend event destined for a server-sent event stream.
type Event struct {
	// Type is the SSE event name. Defaults to "message" when the backend
	// line carries no event field.
	Type string

	// Data is the JSON-encoded event payload.
	Data []byte
}

// SSE renders the event in text/event-stream framing.
func (e Event) SSE() string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, e.Data)
}

// Streamer is the optional streaming capability.
//
// Contract:
// - The channel is infinite and not restartable: it closes only when the
//   underlying transport reaches end-of-stream or an unrecoverable error.
// - If StreamEvents returns nil error, the channel must be non-nil.
type Streamer interface {
	Adapter

	StreamEvents(ctx context.Context) (<-chan Event, error)
}

// ProcessState describes the lifecycle of an adapter's child process.
type ProcessState struct {
	Phase ProcessPhase

	// PID is set while the process is running.
	PID int

	// ExitCode is set once the process has exited.
	ExitCode int
}

// ProcessPhase is one step of the child-process lifecycle.
type ProcessPhase string

// Process phases, in lifecycle order.
const (
	PhaseNotStarted ProcessPhase = "not_started"
	PhaseStarting   ProcessPhase = "starting"
	PhaseRunning    ProcessPhase = "running"
	PhaseExited     ProcessPhase = "exited"
)

// ProcessReporter is the optional process-state capability, implemented
// by adapters that own a child process.
type ProcessReporter interface {
	Adapter

	ProcessState() ProcessState
}

// StreamEvents returns the adapter's event stream when the capability is
// present, or ErrNoStreaming otherwise.
func StreamEvents(ctx context.Context, a Adapter) (<-chan Event, error) {
	s, ok := a.(Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoStreaming, a.ID())
	}
	return s.StreamEvents(ctx)
}
