// Package decision implements the routing brain: given a task, it decides
// whether to execute on an MCP service, delegate to an A2A peer agent, or
// run locally. Static routing rules are consulted first, then candidates
// are scored on capability match, historical performance and current load.
// Decisions are cached by task shape for a configurable window, and every
// execution outcome is fed back into the per-target metrics that drive
// future scoring.
package decision
