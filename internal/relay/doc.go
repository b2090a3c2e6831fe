// Package relay implements the core WebSocket relay engine for stampchat.
//
// The implementation is organized into specialized files for configuration,
// the relay event loop, sessions, presence, wire events, routing, and HTTP
// handlers to keep the codebase maintainable and testable as the project
// grows.
package relay
