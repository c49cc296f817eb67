// Package registry owns the gateway's adapter fleet: it runs tool
// discovery across every configured adapter, builds the tool-name
// routing table, and feeds a search index with what it found.
//
// Discovery is partial-failure tolerant: an adapter that cannot list
// its tools is logged and skipped, and every other adapter's tools
// remain routable. When two servers expose the same tool name, the
// adapter configured last wins the route; discovery runs concurrently
// but routes are applied in configuration order, so the winner does
// not depend on which backend answered first.
package registry
