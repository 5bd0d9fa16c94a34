// Package runstore provides type-safe Go definitions and Redis schema
// patterns for the bandscan run ledger. The ledger is where a pipeline run
// records its progress: per-stage status, per-iteration refinement-state
// checkpoints, and the final crossing set. The CLI reads the same ledger for
// `bandscan status` and subscribes to it for `bandscan watch`.
//
// All Redis keys and channels are namespaced by run name so multiple runs can
// safely share a single Redis server.
package runstore
