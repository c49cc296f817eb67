// Package gateway exposes the proxy's HTTP surface: tool listing and
// invocation, per-server status and ping, server-sent event streaming,
// tool search over the discovery index, and a small debug surface.
//
// Handlers are thin: routing and error taxonomy live here, transport
// semantics live in the adapters, and the routing table lives in the
// registry. Backend-reported JSON-RPC errors map onto HTTP statuses
// (method not found to 501, other backend errors to 400); transport
// failures map to 500.
package gateway
