// Package pipeline binds a ring buffer, its stage graph and a single producer goroutine.
//
// # Module
//
// Two pipelines run per process:
//
//	inbound:  journal ‖ replication ‖ ledger
//	outbound: journal ‖ publish
//
// # Source
//
// Payloads enter through Push from any goroutine. The ingress queue hands them to the one
// producer goroutine, which is the only writer of the ring buffer.
//
// # Produce
//
// Every stage sees every event in sequence order. Slot sequences continue from the base
// sequence given to Start.
package pipeline
