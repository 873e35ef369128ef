// Package history keeps the undo/redo stacks of one game session.
//
// A Stack holds immutable Snapshots. The current state is always the top of
// the undo stack, which is never empty once the first state has been pushed.
// Pushing discards the redo stack, so history is linear: branches are dropped,
// never merged.
//
// Every accepted change hands a Checkpoint to the stack's Sink without
// waiting. The persist package provides the Sink that writes checkpoints to
// durable storage in the background.
//
// Stack is not safe for concurrent use; session.Handle guards it with a
// read/write lock.
package history
