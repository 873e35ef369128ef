// Package persist writes session history to durable storage in the background.
//
// Each session owns one Worker. The worker drains a bounded queue of
// history.Checkpoints in FIFO order, encodes each one as a JSON envelope,
// compresses it with zlib, and hands the blob to a SessionStore. Failures are
// logged and counted, never returned to the goroutine that changed the
// session: by the time a checkpoint is saved the change has already been
// acknowledged.
//
// Backpressure:
//
// Enqueue never blocks. When the queue is full the oldest pending checkpoint
// is discarded with a warning. Every checkpoint carries the complete undo and
// redo stacks, so the newer checkpoint supersedes the one that was dropped
// and the store still converges on the latest history.
//
// Stores:
//
//   - MemoryStore keeps blobs in memory (tests, ephemeral servers)
//   - FileStore writes one file per session
//   - sqlite.Store upserts rows in a SQLite database
//
// FileStore and sqlite.Store also implement Loader, which session.Registry
// uses to reload sessions after a restart.
package persist
