package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/registry"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

// Config configures the gateway server.
type Config struct {
	// Registry routes tools and owns the adapter fleet.
	Registry *registry.Registry

	// Logger is an optional logger. Default: zap.NewNop().
	Logger *zap.Logger
}

// Server is the gateway's HTTP surface.
type Server struct {
	reg    *registry.Registry
	router *chi.Mux
	logger *zap.Logger
	titler cases.Caser
}

// New constructs a Server with middleware and routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reg:    cfg.Registry,
		router: chi.NewRouter(),
		logger: logger,
		titler: cases.Title(language.English),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/", s.handleRoot)
	s.router.Get("/tools/list", s.handleListTools)
	s.router.Get("/tools/search", s.handleSearchTools)
	s.router.Get("/namespaces", s.handleNamespaces)
	s.router.Post("/call_tool", s.handleCallTool)
	s.router.Get("/status/{serverID}", s.handleStatus)
	s.router.Get("/ping/{serverID}", s.handlePing)
	s.router.Get("/sse/{serverID}", s.handleSSE)
	s.router.Get("/debug/servers", s.handleDebugServers)
	s.router.Post("/debug/direct_call", s.handleDirectCall)

	return s
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	servers := make([]map[string]any, 0)
	for _, a := range s.reg.Adapters() {
		info := map[string]any{
			"id":     a.ID(),
			"kind":   a.Kind(),
			"status": serverStatus(a)["status"],
		}
		if ir, ok := a.(imageReporter); ok {
			info["image"] = ir.Image()
		}
		servers = append(servers, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "online",
		"servers":         servers,
		"tools_available": len(s.reg.ToolNames()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	a, ok := s.reg.ByID(serverID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("server %q not found", serverID),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{serverID: serverStatus(a)})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	a, ok := s.reg.ByID(serverID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("server %q not found", serverID),
		})
		return
	}

	resp, err := a.CallTool(r.Context(), "rpc.ping", map[string]any{})
	if err != nil {
		s.logger.Error("ping failed", zap.String("server", serverID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	if resp.IsError() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  resp.Error.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "response": resp})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	a, ok := s.reg.ByID(serverID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("server %q not found", serverID),
		})
		return
	}

	events, err := adapter.StreamEvents(r.Context(), a)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("server %q does not support event streaming", serverID),
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "streaming unsupported by this connection",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			if _, err := fmt.Fprint(w, e.SSE()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// serverStatus maps an adapter's process lifecycle onto the status
// vocabulary. Adapters without a process report "unknown".
func serverStatus(a adapter.Adapter) map[string]any {
	pr, ok := a.(adapter.ProcessReporter)
	if !ok {
		return map[string]any{"status": "unknown", "details": "server has no process"}
	}

	st := pr.ProcessState()
	switch st.Phase {
	case adapter.PhaseNotStarted:
		return map[string]any{"status": "not_running"}
	case adapter.PhaseStarting:
		return map[string]any{"status": "starting"}
	case adapter.PhaseRunning:
		return map[string]any{"status": "running", "pid": st.PID}
	case adapter.PhaseExited:
		return map[string]any{"status": "exited", "returncode": st.ExitCode}
	default:
		return map[string]any{"status": "unknown"}
	}
}

// imageReporter is the optional container-image capability, implemented
// by process adapters.
type imageReporter interface {
	Image() string
	ExtraArgs() []string
}

// urlReporter is the optional base-URL capability, implemented by HTTP
// adapters.
type urlReporter interface {
	BaseURL() string
}

// rawCaller is the optional raw JSON-RPC capability used by the debug
// surface.
type rawCaller interface {
	Call(ctx context.Context, method string, params map[string]any) (*rpc.Response, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
