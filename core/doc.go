// Package core provides the foundational domain types and interfaces used by
// AgentRelay. It defines the core abstractions for:
//
//   - Tasks (units of routable work with priority, capabilities and lifecycle)
//   - Decisions (routing outcomes produced by the decision engine)
//   - Target registries (pluggable pools of MCP services and A2A peer agents)
//   - Checkpoints (durable snapshots enabling pause/resume of running tasks)
//   - Performance metrics (per-target rolling statistics feeding the scorer)
//
// The package intentionally keeps implementation concerns (transports, engine
// orchestration, concrete schedulers) out of scope, exposing small interfaces
// to enable custom backends and extensions.
package core
