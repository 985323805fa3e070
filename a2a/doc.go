// Package a2a maintains the pool of peer agents reachable over
// agent-to-agent protocols. It connects peers declared in configuration,
// tracks their health and per-peer delivery statistics, and dispatches task
// requests to a capability-matched peer chosen by the configured balancing
// strategy.
package a2a
