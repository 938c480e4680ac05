// Package ledger implements the inventory position check.
//
// # Module
//
// The ledger is a stage of the inbound pipeline. Each request payload carries an operation:
//
//	CHECK  key:qty    accept and decrement when qty > 0 and the record holds at least qty
//	UPDATE key:delta  signed adjustment, rejected when the result would be negative
//
// Every request yields a RESULT payload forwarded to the outbound pipeline.
//
// # Source
//
// State is loaded from a store.Store on Open and from a start-of-day snapshot before start.
// After a crash, Recover replays inbound journal requests newer than the persisted sequence.
//
// # Produce
//
// Mutations are persisted after every request, or at end of batch with Options.PersistBatch.
package ledger
