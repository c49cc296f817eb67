// Package stdio implements the process adapter: line-delimited JSON-RPC
// 2.0 over a spawned subprocess's standard streams.
//
// The adapter owns exactly one child process at a time, spawned lazily on
// first use and respawned transparently after an exit. A dedicated reader
// goroutine parses each output line and dispatches it to the pending
// caller whose correlation id matches, so concurrent callers on one
// backend never interleave reads of the shared pipe. Timeouts, write
// failures, and premature end-of-stream all surface as synthesized
// JSON-RPC error envelopes with code -32603 rather than Go errors.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

// Default configuration values.
const (
	DefaultCommand     = "docker"
	DefaultListTimeout = 5 * time.Second
	DefaultCallTimeout = 10 * time.Second

	// DefaultReadyMarker is the substring expected in a backend's first
	// output line. Its absence is logged, never fatal.
	DefaultReadyMarker = "running on stdio"
)

// defaultRunFlags is the docker argument template: interactive stdin,
// container removed on exit.
var defaultRunFlags = []string{"run", "-i", "--rm"}

// Config configures a process adapter.
type Config struct {
	// ID is the unique server id.
	ID string

	// Image is the container image (or trailing command argument) to run.
	Image string

	// ExtraArgs are adapter-specific arguments inserted between the run
	// flags and the image.
	ExtraArgs []string

	// Command overrides the executable. Default: "docker". When Command
	// is overridden the docker run flags are not applied.
	Command string

	// Env are additional environment variables for the subprocess.
	Env map[string]string

	// ListTimeout bounds tools/list calls. Default: 5s.
	ListTimeout time.Duration

	// CallTimeout bounds tools/call calls. Default: 10s.
	CallTimeout time.Duration

	// ReadyMarker is the startup handshake substring. Default:
	// "running on stdio".
	ReadyMarker string

	// Logger is an optional logger. Default: zap.NewNop().
	Logger *zap.Logger
}

// Adapter speaks line-delimited JSON-RPC to a child process it owns
// exclusively.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	// nextID is the per-adapter correlation id, monotonic across respawns.
	nextID atomic.Int64

	mu     sync.Mutex
	proc   *process
	phase  adapter.ProcessPhase
	pid    int
	exit   int
	closed bool
}

// New creates a process adapter. The child process is not spawned until
// the first call.
func New(cfg Config) *Adapter {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.ListTimeout == 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ReadyMarker == "" {
		cfg.ReadyMarker = DefaultReadyMarker
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("server", cfg.ID)),
		phase:  adapter.PhaseNotStarted,
	}
}

// ID implements adapter.Adapter.
func (a *Adapter) ID() string { return a.cfg.ID }

// Kind implements adapter.Adapter.
func (a *Adapter) Kind() adapter.Kind { return adapter.KindStdio }

// Image returns the configured container image.
func (a *Adapter) Image() string { return a.cfg.Image }

// ExtraArgs returns the adapter-specific run arguments.
func (a *Adapter) ExtraArgs() []string { return a.cfg.ExtraArgs }

// ListTools implements adapter.Adapter.
func (a *Adapter) ListTools(ctx context.Context) (*rpc.Response, error) {
	id := a.nextID.Add(1)
	return a.roundTrip(ctx, rpc.NewListToolsRequest(id), a.cfg.ListTimeout), nil
}

// CallTool implements adapter.Adapter.
func (a *Adapter) CallTool(ctx context.Context, tool string, arguments map[string]any) (*rpc.Response, error) {
	id := a.nextID.Add(1)
	req, err := rpc.NewCallToolRequest(id, tool, arguments)
	if err != nil {
		return nil, err
	}
	return a.roundTrip(ctx, req, a.cfg.CallTimeout), nil
}

// Call issues a raw JSON-RPC method against the backend, bounded by the
// call timeout. Used by the debug surface.
func (a *Adapter) Call(ctx context.Context, method string, params map[string]any) (*rpc.Response, error) {
	id := a.nextID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &rpc.Request{JSONRPC: rpc.Version, ID: id, Method: method, Params: raw}
	return a.roundTrip(ctx, req, a.cfg.CallTimeout), nil
}

// StreamEvents implements adapter.Streamer. The returned channel carries
// every backend output line that is not a response to an in-flight
// request, and closes when the process's output reaches end-of-stream.
func (a *Adapter) StreamEvents(_ context.Context) (<-chan adapter.Event, error) {
	p, err := a.ensureProcess()
	if err != nil {
		return nil, err
	}
	return p.subscribe(), nil
}

// ProcessState implements adapter.ProcessReporter.
func (a *Adapter) ProcessState() adapter.ProcessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return adapter.ProcessState{Phase: a.phase, PID: a.pid, ExitCode: a.exit}
}

// Close terminates the child process if one is running.
func (a *Adapter) Close() error {
	a.mu.Lock()
	p := a.proc
	a.proc = nil
	a.closed = true
	a.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.terminate(a.logger)
}

// roundTrip sends one request and waits for the matching response.
// Every failure mode is folded into a synthesized error envelope
// carrying the request's id; callers always get an envelope back.
func (a *Adapter) roundTrip(ctx context.Context, req *rpc.Request, timeout time.Duration) *rpc.Response {
	p, err := a.ensureProcess()
	if err != nil {
		a.logger.Error("failed to start process", zap.Error(err))
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError,
			fmt.Sprintf("failed to start process for %s: %v", a.cfg.ID, err))
	}

	respCh := p.register(req.ID)
	defer p.release(req.ID)

	if err := p.send(req); err != nil {
		a.logger.Error("failed to send command", zap.Int64("id", req.ID), zap.Error(err))
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError,
			fmt.Sprintf("error sending command: %v", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp
	case <-p.done:
		// The reader delivers before it closes done, so a backend that
		// answers and exits in one breath can have both cases ready.
		// Prefer the real response over a synthesized error.
		select {
		case resp := <-respCh:
			return resp
		default:
		}
		a.logger.Warn("end of stream before response", zap.Int64("id", req.ID))
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError,
			fmt.Sprintf("internal error: no response for %s", a.cfg.ID))
	case <-timer.C:
		a.logger.Warn("timed out waiting for response",
			zap.Int64("id", req.ID), zap.Duration("timeout", timeout))
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError,
			fmt.Sprintf("internal error: no response for %s", a.cfg.ID))
	case <-ctx.Done():
		return rpc.NewErrorResponse(req.ID, rpc.CodeInternalError,
			fmt.Sprintf("internal error: %v", ctx.Err()))
	}
}

// ensureProcess returns the running process, spawning one lazily when
// none is running or the previous one has exited.
func (a *Adapter) ensureProcess() (*process, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("adapter %s is closed", a.cfg.ID)
	}
	if a.proc != nil && a.phase == adapter.PhaseRunning {
		return a.proc, nil
	}

	a.phase = adapter.PhaseStarting
	p, err := a.spawn()
	if err != nil {
		a.phase = adapter.PhaseNotStarted
		return nil, err
	}
	a.proc = p
	a.phase = adapter.PhaseRunning
	a.pid = p.cmd.Process.Pid
	a.logger.Info("process started",
		zap.Int("pid", a.pid),
		zap.String("command", a.cfg.Command),
		zap.String("image", a.cfg.Image))
	return p, nil
}

// spawn starts the child process and its reader goroutine. Stderr is
// merged into stdout: several backends emit their startup line there.
func (a *Adapter) spawn() (*process, error) {
	argv := a.argv()
	// #nosec G204 -- the command comes from trusted gateway configuration
	cmd := exec.Command(a.cfg.Command, argv...)

	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	for k, v := range a.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", a.cfg.Command, err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		output:  pr,
		pending: make(map[int64]chan *rpc.Response),
		events:  make(chan adapter.Event, 16),
		done:    make(chan struct{}),
	}
	go a.readLoop(p)
	return p, nil
}

// argv assembles the fixed argument template: run flags, adapter-specific
// extra arguments, then the image identifier.
func (a *Adapter) argv() []string {
	var args []string
	if a.cfg.Command == DefaultCommand {
		args = append(args, defaultRunFlags...)
	}
	args = append(args, a.cfg.ExtraArgs...)
	if a.cfg.Image != "" {
		args = append(args, a.cfg.Image)
	}
	return args
}

// readLoop is the per-process reader goroutine. It parses each output
// line and routes it: matched responses to their pending caller,
// everything else to the event stream or the log. The first line doubles
// as the startup handshake.
func (a *Adapter) readLoop(p *process) {
	defer a.handleExit(p)

	reader := bufio.NewReader(p.output)
	first := true
	for {
		raw, err := reader.ReadString('\n')
		line := strings.TrimSpace(raw)

		if first && line != "" {
			first = false
			if strings.Contains(line, a.cfg.ReadyMarker) {
				a.logger.Info("backend ready", zap.String("startup", line))
			} else {
				a.logger.Warn("unexpected startup line", zap.String("startup", line))
			}
		}

		if line != "" {
			a.dispatch(p, line)
		}

		if err != nil {
			if err != io.EOF {
				a.logger.Error("error reading process output", zap.Error(err))
			}
			return
		}
	}
}

// dispatch routes one output line. Lines that fail to parse as JSON and
// responses whose id matches no pending request are discarded, not
// buffered.
func (a *Adapter) dispatch(p *process, line string) {
	var resp rpc.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		a.logger.Warn("discarding non-JSON line", zap.String("line", line))
		p.emitRaw(line)
		return
	}

	if resp.ID != nil && resp.ID.Num != nil {
		if p.deliver(*resp.ID.Num, &resp) {
			return
		}
		a.logger.Warn("discarding response with no pending request",
			zap.String("id", resp.ID.String()))
		return
	}

	p.emitLine(line)
}

// handleExit reaps the child and records its exit, unless a newer spawn
// has already replaced this process.
func (a *Adapter) handleExit(p *process) {
	close(p.done)
	p.closeEvents()
	p.output.Close()

	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()

	a.mu.Lock()
	if a.proc == p {
		a.phase = adapter.PhaseExited
		a.exit = code
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("process exited", zap.Int("code", code), zap.Error(err))
	} else {
		a.logger.Info("process exited", zap.Int("code", code))
	}
}

// process is one spawn of the child. It is owned by its Adapter and
// replaced wholesale on respawn.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *rpc.Response

	eventsMu     sync.Mutex
	events       chan adapter.Event
	eventsClosed bool

	// done closes when the reader goroutine observes end-of-stream.
	done chan struct{}
}

// send writes one request as a single newline-terminated JSON line.
// Writes are serialized so concurrent callers cannot interleave.
func (p *process) send(req *rpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// register allocates the pending slot for a correlation id.
func (p *process) register(id int64) chan *rpc.Response {
	ch := make(chan *rpc.Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	return ch
}

// release retires a correlation id. After release a late response for
// the id is discarded instead of matching a stale or reused slot.
func (p *process) release(id int64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

// deliver hands a response to its pending caller, reporting whether a
// caller was waiting.
func (p *process) deliver(id int64, resp *rpc.Response) bool {
	p.pendingMu.Lock()
	ch, ok := p.pending[id]
	p.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

// subscribe returns the event stream for this spawn.
func (p *process) subscribe() <-chan adapter.Event {
	return p.events
}

// emitLine forwards a parsed non-response JSON line to the event stream,
// shaping it as an SSE event: the "event" field names the event type and
// the "data" field carries the payload.
func (p *process) emitLine(line string) {
	var obj struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return
	}
	if obj.Event == "" {
		obj.Event = "message"
	}
	if len(obj.Data) == 0 {
		obj.Data = json.RawMessage(`{}`)
	}
	p.emit(adapter.Event{Type: obj.Event, Data: obj.Data})
}

// emitRaw forwards a non-JSON line as a message event with the line as a
// JSON string payload.
func (p *process) emitRaw(line string) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	p.emit(adapter.Event{Type: "message", Data: data})
}

func (p *process) emit(e adapter.Event) {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if p.eventsClosed {
		return
	}
	select {
	case p.events <- e:
	default:
		// A slow consumer drops events rather than stalling the reader.
	}
}

func (p *process) closeEvents() {
	p.eventsMu.Lock()
	defer p.eventsMu.Unlock()
	if !p.eventsClosed {
		close(p.events)
	}
	p.eventsClosed = true
}

// terminate closes stdin to let the child exit cleanly, then kills it
// after a grace period.
func (p *process) terminate(logger *zap.Logger) error {
	p.writeMu.Lock()
	p.stdin.Close()
	p.writeMu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
	}

	logger.Warn("process did not exit cleanly, killing", zap.Int("pid", p.cmd.Process.Pid))
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	<-p.done
	return nil
}

var (
	_ adapter.Adapter         = (*Adapter)(nil)
	_ adapter.Streamer        = (*Adapter)(nil)
	_ adapter.ProcessReporter = (*Adapter)(nil)
)
