// Package mcp implements the service registry: a pool of external MCP
// (Model Context Protocol) tool providers reachable over stdio, streamable
// HTTP or WebSocket, plus one synthetic "system" service exposing in-process
// built-in tools.
//
// The registry connects services best-effort in parallel, discovers their
// tool and resource lists, health-checks them every minute and reconnects a
// service once its consecutive-error budget is exhausted. Selection filters
// connected services by capability superset and applies a configurable
// strategy (priority, round-robin, least-errors, best capability match).
package mcp
