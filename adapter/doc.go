// Package adapter defines the uniform tool-invocation contract over
// heterogeneous backend servers.
//
// An Adapter translates ListTools/CallTool into one concrete transport:
//
//   - stdio: line-delimited JSON-RPC over a spawned subprocess's pipes
//     (see adapter/stdio)
//   - http: JSON-RPC over request/response HTTP calls (see adapter/httprpc)
//
// Optional capabilities are expressed as narrow interfaces checked by
// type assertion: Streamer for server-sent event streaming and
// ProcessReporter for child-process state. Callers must check the
// capability before use; a missing capability is a defined gap, not a
// crash.
package adapter
