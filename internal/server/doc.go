// Package server implements the connection manager: it accepts one stream
// connection per mapping agent and runs a dedicated worker for each.
//
// # Lifecycle
//
// Every accepted connection gets a Handle carrying a numeric client ID
// (unique for the server's lifetime), a health flag, the server's shared
// termination context, and the connection itself. A worker goroutine then
// drives the protocol handler built by the server's HandlerFactory:
//
//	CONNECTING ──accept──▶ RUNNING ──┬──▶ CLOSED_CLEAN
//	                        │        └──▶ CLOSED_ERROR
//	                        ▼
//	               RunPre ─▶ RunIter* ─▶ RunPost
//
// RunIter repeats while the connection is healthy and the server has not
// begun shutting down. After RunPost the worker closes the connection.
//
// # Cancellable I/O
//
// Handle.ReadMessage and Handle.WriteMessage transfer exactly one message
// buffer. They block until the transfer completes, the connection fails,
// or the termination context is cancelled. Cancellation pushes the
// connection deadline into the past, so a worker stuck waiting on a silent
// peer returns promptly instead of stalling Server.Shutdown.
//
// Any failure clears the health flag; the worker exits and the handle ends
// in CLOSED_ERROR. A peer that hangs up between messages ends in
// CLOSED_CLEAN. Nothing is retried: reconnecting is the agent's job.
//
// # Garbage collection
//
// Workers never unregister themselves. A Monitor sweeps the server on a
// fixed interval, removes finished handles, and reports each through a
// callback so the owner can drop per-client state.
package server
