// Package ws provides the WebSocket transport of the presence hub.
//
// The package implements:
//   - Client: one WebSocket connection with a bounded, non-blocking send queue
//   - Handler: upgrades HTTP requests and runs the read and write pumps
//   - Service: owns the hub and the handler and tears both down on shutdown
//
// Each connection gets one reader goroutine, which decodes envelopes and hands
// events to the hub, and one writer goroutine, which is the only goroutine
// writing to the socket. A client whose send queue fills up, or whose socket
// write exceeds the write deadline, is disconnected.
package ws
