package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// directCallRequest is the /debug/direct_call body: a raw JSON-RPC
// method issued against one process-backed server.
type directCallRequest struct {
	ServerID string         `json:"server_id"`
	Method   string         `json:"method"`
	Params   map[string]any `json:"params"`
}

func (s *Server) handleDebugServers(w http.ResponseWriter, _ *http.Request) {
	names := s.reg.ToolNames()

	servers := make([]map[string]any, 0)
	for _, a := range s.reg.Adapters() {
		info := map[string]any{
			"id":   a.ID(),
			"kind": a.Kind(),
		}
		if ir, ok := a.(imageReporter); ok {
			info["image"] = ir.Image()
			info["docker_args"] = ir.ExtraArgs()
		}
		if ur, ok := a.(urlReporter); ok {
			info["base_url"] = ur.BaseURL()
		}
		if err := s.reg.DiscoveryError(a.ID()); err != nil {
			info["discovery_error"] = err.Error()
		}

		count := 0
		for _, name := range names {
			if owner, ok := s.reg.Lookup(name); ok && owner.ID() == a.ID() {
				count++
			}
		}
		info["tools_count"] = count
		servers = append(servers, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"servers_count": len(servers),
		"total_tools":   len(names),
		"servers":       servers,
	})
}

func (s *Server) handleDirectCall(w http.ResponseWriter, r *http.Request) {
	var req directCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "'method' is required in the body"})
		return
	}
	if req.ServerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "'server_id' is required in the body"})
		return
	}

	a, ok := s.reg.ByID(req.ServerID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("server %q not found", req.ServerID),
		})
		return
	}

	caller, ok := a.(rawCaller)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "direct calls require a process-backed server",
		})
		return
	}

	resp, err := caller.Call(r.Context(), req.Method, req.Params)
	if err != nil {
		s.logger.Error("direct call failed",
			zap.String("server", req.ServerID),
			zap.String("method", req.Method),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": req.ServerID,
		"method":    req.Method,
		"params":    req.Params,
		"response":  resp,
	})
}
