// Package session holds every live game session of the process.
//
// The registry maps a session id to a Handle. A Handle owns one
// history.Stack guarded by a read/write lock and one persist.Worker that
// writes the stack's checkpoints behind the request path.
//
// Core Types:
//
// Registry is the process-wide session map. It is created once by main and
// passed down to the service layer; there are no package-level singletons.
// Handle is a single session. View is a consistent read of a Handle taken
// under one read lock.
//
// Locking:
//
// The registry map has its own RWMutex: lookups run concurrently and inserts
// are serialized. Each Handle has a separate RWMutex: many readers of the
// current state, at most one writer running push, undo or redo. The
// *AndBroadcast operations release the session lock before notifying
// subscribers, so a slow subscriber never holds up other mutators of the same
// session.
//
// Lifecycle:
//
// Sessions are created explicitly (Create) or restored from a persist.Loader
// (Reload, LoadAll). They live until Delete or Close. There is no idle
// eviction. Delete also removes the persisted copy when the store is a
// persist.Deleter; Close keeps it.
//
// Usage:
//
//	reg := session.NewRegistry(session.Config{
//		Broker: broker,
//		Store:  store,
//		Codec:  state.DocumentCodec{},
//		Logger: logger,
//	})
//	defer reg.Close()
//
//	h, err := reg.Create(ctx, "g1", initial)
//	snap, failures, err := reg.PushAndBroadcast(ctx, "g1", next, []string{"alice", "bob"})
package session
