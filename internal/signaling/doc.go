// Package signaling contains the WebSocket rendezvous surface: the wire
// protocol spoken by browser clients, the addressed signal router, and the
// connection hub that delivers presence notifications.
package signaling
