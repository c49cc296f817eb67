// Package rpc provides the JSON-RPC 2.0 framing shared by every adapter.
//
// The gateway speaks a small subset of JSON-RPC 2.0: numeric request ids,
// the tools/list and tools/call methods, and single-object responses
// carrying either result or error. Envelopes from backends pass through
// the gateway unchanged; this package only frames, it never interprets
// tool payloads.
package rpc
