// Package lsp drives a single Language Server Protocol server from
// launch to shutdown.
//
// It covers the client side of the lifecycle only: the initialize
// handshake, deciding when the server has finished its startup work,
// navigation queries, and an orderly or forced shutdown. It does not
// implement editor features.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Server: lifecycle state machine for one server process
//   - Transport: JSON-RPC 2.0 over the process's stdio
//   - HandlerRegistry: handlers for server-initiated notifications and requests
//   - Detector: readiness latch fed by window/logMessage
//
// # Lifecycle
//
// A Server moves through these states:
//
//	Unstarted -> Starting -> Initializing -> Initialized -> Running -> ShuttingDown -> Stopped
//
// Any live state may instead move to Failed, which is absorbing. A
// failure is returned to whichever caller is blocked at the time, and
// queries are rejected with ErrServerNotReady outside Running.
//
// # Quick Start
//
//	srv := lsp.NewServer(desc, lsp.WithReadiness(lsp.ContainsMatcher("Finished")))
//	srv.Registry().Reply("workspace/executeClientCommand", []any{})
//
//	if err := srv.Start(ctx, root, params); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.WithoutCancel(ctx))
//
//	if err := srv.WaitReady(ctx); err != nil {
//	    return err
//	}
//	locs, err := srv.References(ctx, "lib/app.rb", lsp.Position{Line: 4, Character: 7})
//
// # Readiness
//
// Many servers answer initialize long before they have indexed the
// workspace. The Detector parses every window/logMessage into a LogEvent
// and sets its latch when the configured Matcher accepts one. This is a
// heuristic: a ready server usually, but not always, returns complete
// results.
//
// # Ordering
//
// Inbound messages are handled synchronously in the order they arrive,
// so a readiness message is never observed after a later one.
package lsp
