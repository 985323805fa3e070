// Package memory provides checkpoint persistence for the scheduler: an
// in-memory store for tests and single-process setups, and a SQLite-backed
// store for checkpoints that must survive restarts.
package memory
