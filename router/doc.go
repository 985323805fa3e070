// Package router dispatches ad-hoc tool calls across the MCP service pool
// and the A2A peer pool. The configured strategy decides the search order;
// capability-based routing infers required capabilities from the tool name
// and asks the decision engine. Every call returns a uniform result
// envelope and is folded into the router's running statistics.
package router
