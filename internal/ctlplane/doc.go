// Package ctlplane exposes the admission controller to the CLI over a
// net/rpc Unix socket.
//
// # Architecture
//
// The daemon ("turnstile run") owns the firewall and the grant table. Every
// other subcommand is a short-lived client:
//
//	turnstile grant → Client → Unix socket → Server → admission.Controller
//
// # Adding New RPC Methods
//
//  1. Define request/reply types in types.go
//  2. Add the method to Service in service.go
//  3. Add the client method in client.go
//
// Domain failures never surface as RPC errors. They are reported in the
// reply (Result.Success, Result.Error, Result.Kind) so the CLI can print
// them and still exit 0.
package ctlplane
