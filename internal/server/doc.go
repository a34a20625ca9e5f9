// Package server implements the HTTP surface of the relay: the WebSocket
// endpoint, the image upload endpoint, a health check and static files.
//
// The relay logic itself lives in package relay; this package only wires
// transports to it.
package server
