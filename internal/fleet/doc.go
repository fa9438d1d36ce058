// Package fleet runs one chat connection per tenant and keeps it alive.
//
// # Overview
//
// The Supervisor owns the live connection set. Activate opens a stream for
// a tenant and registers it; Bootstrap does the same for every stored
// tenant at startup; Deactivate and Shutdown stop connections for good.
//
// The Registry is the shared state: live connections keyed by token,
// tokens mid-activation, and the per-channel session ids the message
// router hands to the NLU service. Reserving a token is one atomic
// check-and-insert, so at most one connection per token ever exists.
//
// # Lifecycle
//
// Each Connection moves through:
//
//	Connecting -> Open          handshake succeeded
//	Connecting -> Terminated    handshake failed; never registered
//	Open       -> Closed        upstream dropped the stream
//	Closed     -> Reconnecting  unless marked do-not-restart
//	Reconnecting -> Open        redial succeeded
//	Open|Closed|Reconnecting -> Terminated   stopped, or policy gave up
//
// RestartPolicy sets a fixed delay between redials and an optional attempt
// cap. The default retries forever.
//
// # Welcome Flow
//
// The first time a tenant with FirstRun set comes up, the installing user
// gets the welcome messages privately, FirstRun is cleared and the tenant
// is saved once. Failures are logged.
//
// # Dispatch
//
// Each connection has one reader goroutine. Events fan out to a lane per
// channel: channels proceed independently, and events within a channel are
// handled in the order they arrived. A panicking handler loses only the
// event it was handling.
package fleet
