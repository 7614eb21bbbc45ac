// Package core defines the shared data model threaded through the
// orchestration pipeline: messages and their content variants, the inbound
// ChatTurnRequest, the per-run ProcessingContext, tool call/result types,
// stream events, the error taxonomy and the TTL cache used for cross-request
// read-mostly state.
//
// Types in this package are deliberately free of behavior beyond invariant
// enforcement so every other package can depend on core without cycles.
package core
