// Package notify delivers messages to waiting subscribers.
//
// Every subscriber owns one bounded Mailbox. Producers never wait on a slow
// subscriber: a full mailbox rejects the message with ErrMailboxFull. A
// subscriber's poll loop blocks in Broker.WaitNext until a message arrives or
// the subscriber is unregistered.
//
// Core Types:
//
// Mailbox is a bounded FIFO with a single logical consumer.
// Broker maps subscriber ids to mailboxes and fans messages out.
// Message is the payload delivered to subscribers.
//
// Concurrency:
//
// The broker's map lock is held only for lookups and inserts, never while
// sending or receiving, so operations on different subscriber ids do not
// block each other.
//
// Usage:
//
//	broker := notify.NewBroker(notify.DefaultMailboxCapacity, logger)
//	broker.Register("u1")
//
//	failures := broker.SendMany([]string{"u1", "u2"}, msg)
//	if err := failures.Err(); err != nil {
//		logger.Warn().Err(err).Msg("partial delivery")
//	}
//
//	msg, err := broker.WaitNext(ctx, "u1")
package notify
