package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Tomas1307/mcp-client-proxy/adapter"
	"github.com/Tomas1307/mcp-client-proxy/registry"
	"github.com/Tomas1307/mcp-client-proxy/rpc"
)

// defaultSearchLimit caps /tools/search results when the client does
// not pass one.
const defaultSearchLimit = 10

// callToolRequest is the /call_tool body. ServerID pins the call to one
// server, bypassing the routing table.
type callToolRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	ServerID  string         `json:"server_id,omitempty"`
}

// toolDescriptor is one flattened tool entry in /tools/list.
type toolDescriptor struct {
	Description string                     `json:"description"`
	Title       string                     `json:"title,omitempty"`
	Inputs      map[string]paramDescriptor `json:"inputs"`
}

// paramDescriptor is one flattened input parameter.
type paramDescriptor struct {
	Mandatory   bool   `json:"mandatory"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Options     []any  `json:"options,omitempty"`
	ItemsType   string `json:"items_type,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for _, a := range s.reg.Adapters() {
		resp, err := a.ListTools(r.Context())
		if err != nil {
			s.logger.Error("tools/list failed", zap.String("server", a.ID()), zap.Error(err))
			out[a.ID()] = map[string]any{"error": err.Error()}
			continue
		}
		if resp.IsError() {
			out[a.ID()] = map[string]any{"error": resp.Error.Message}
			continue
		}

		var result struct {
			Tools []registry.Tool `json:"tools"`
		}
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			out[a.ID()] = map[string]any{"error": "invalid tools/list result"}
			continue
		}

		tools := make(map[string]toolDescriptor, len(result.Tools))
		for _, t := range result.Tools {
			if t.Name == "" {
				continue
			}
			tools[t.Name] = s.flatten(t)
		}
		out[a.ID()] = tools
	}
	writeJSON(w, http.StatusOK, out)
}

// flatten turns a raw tool definition into the gateway's descriptor
// shape: description, display title, and per-parameter metadata pulled
// out of the JSON schema.
func (s *Server) flatten(t registry.Tool) toolDescriptor {
	desc := toolDescriptor{
		Description: t.Description,
		Title:       s.title(t),
		Inputs:      make(map[string]paramDescriptor),
	}
	if desc.Description == "" {
		desc.Description = "No description available"
	}

	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Enum        []any  `json:"enum"`
			Items       struct {
				Type string `json:"type"`
			} `json:"items"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if len(t.InputSchema) == 0 || json.Unmarshal(t.InputSchema, &schema) != nil {
		return desc
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	for name, prop := range schema.Properties {
		p := paramDescriptor{
			Mandatory:   required[name],
			Type:        prop.Type,
			Description: prop.Description,
			Options:     prop.Enum,
		}
		if p.Type == "" {
			p.Type = "any"
		}
		if p.Type == "array" {
			p.ItemsType = prop.Items.Type
			if p.ItemsType == "" {
				p.ItemsType = "any"
			}
		}
		desc.Inputs[name] = p
	}
	return desc
}

// title resolves the display title: the annotations title when the
// backend provides one, a title-cased tool name otherwise.
func (s *Server) title(t registry.Tool) string {
	if len(t.Annotations) > 0 {
		var ann struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(t.Annotations, &ann) == nil && ann.Title != "" {
			return ann.Title
		}
	}
	return s.titler.String(strings.ReplaceAll(t.Name, "_", " "))
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "'tool' is required in the body"})
		return
	}

	names := s.reg.ToolNames()
	if len(names) == 0 {
		s.logger.Error("no tools registered")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "no tools registered, check the server configuration",
		})
		return
	}

	a, errResp := s.resolve(req)
	if errResp != nil {
		writeJSON(w, errResp.status, errResp.body)
		return
	}

	resp, err := a.CallTool(r.Context(), req.Tool, req.Arguments)
	if err != nil {
		s.logger.Error("tool call failed",
			zap.String("tool", req.Tool),
			zap.String("server", a.ID()),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if resp.IsError() {
		if resp.Error.Code == rpc.CodeMethodNotFound {
			writeJSON(w, http.StatusNotImplemented, map[string]any{
				"error":     fmt.Sprintf("tool %q is not available on server %s", req.Tool, a.ID()),
				"server_id": a.ID(),
				"tool_name": req.Tool,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   resp.Error.Message,
			"details": resp.Error,
		})
		return
	}

	writeJSON(w, http.StatusOK, stampServerID(resp, a.ID()))
}

// callError is a resolved routing failure ready to write.
type callError struct {
	status int
	body   map[string]any
}

// resolve picks the adapter for a call: the pinned server when the body
// names one, the routing table otherwise.
func (s *Server) resolve(req callToolRequest) (adapter.Adapter, *callError) {
	if req.ServerID != "" {
		a, ok := s.reg.ByID(req.ServerID)
		if !ok {
			ids := make([]string, 0)
			for _, ad := range s.reg.Adapters() {
				ids = append(ids, ad.ID())
			}
			return nil, &callError{http.StatusNotFound, map[string]any{
				"error":             fmt.Sprintf("server %q not found", req.ServerID),
				"available_servers": ids,
			}}
		}
		return a, nil
	}

	a, ok := s.reg.Lookup(req.Tool)
	if !ok {
		names := s.reg.ToolNames()
		sort.Strings(names)
		hints := names
		if len(hints) > 10 {
			hints = hints[:10]
		}
		return nil, &callError{http.StatusNotFound, map[string]any{
			"error":           fmt.Sprintf("tool %q not found", req.Tool),
			"available_tools": hints,
			"tool_count":      len(names),
		}}
	}
	return a, nil
}

// stampServerID rebuilds the envelope as a generic object with the
// owning server's id added, leaving an existing server_id untouched.
func stampServerID(resp *rpc.Response, serverID string) map[string]any {
	data, err := json.Marshal(resp)
	if err != nil {
		return map[string]any{"server_id": serverID}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"server_id": serverID}
	}
	if _, exists := out["server_id"]; !exists {
		out["server_id"] = serverID
	}
	return out
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "'q' query parameter is required"})
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "'limit' must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := s.reg.Search(query, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

func (s *Server) handleNamespaces(w http.ResponseWriter, _ *http.Request) {
	namespaces, err := s.reg.Namespaces()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}
