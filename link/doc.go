// Package link implements the ground side of the UDP link to the test-stand MCU.
//
// A Manager owns one UDP socket per connection session. Establishing a session waits for the first
// datagram from the MCU, answers with START and then runs two tasks until the session ends:
//
//   - heartbeat: transmits NOOP on a fixed cadence and declares the link lost when nothing has been
//     received within the miss interval.
//   - listener: receives datagrams, frames them into newline terminated lines and publishes every
//     non-heartbeat line as a Telemetry event.
//
// Connection State:
//
//	Disconnected --Connect--> Connecting --first datagram, START sent--> Connected
//	any state --Disconnect / heartbeat lost / socket error--> Disconnected
//
// All outcomes are reported on the channel returned by Events, in the order they happened. Producers
// never block on a slow consumer; undelivered events are queued without bound until read.
//
// Wire protocol (ASCII, newline terminated):
//
//	ground -> MCU: START, NOOP, VALVE_SET:<name>:<0|1>
//	MCU -> ground: NOOP, telemetry lines of SENSOR:value tokens
package link
