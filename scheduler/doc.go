// Package scheduler owns the task lifecycle: a priority queue with
// dependency gating, a bounded pool of running tasks dispatched through the
// decision engine, periodic checkpointing, and interruption handling for
// urgent work. Paused and interrupted tasks can resume from their last
// checkpoint; with a persistent checkpoint store the scheduler can also
// recover resumable tasks across restarts.
package scheduler
