// Package bridge implements bidirectional UDP forwarding across a secure
// channel.
//
// A Bridge ties one local UDP listen socket and one fixed forward address to
// an already-established secure channel. Two pumps run concurrently:
//
//   - The outbound pump reads datagrams from the listen socket and writes
//     each one as a single message on a persistent send sub-stream of the
//     channel. The sub-stream is created exactly once, before the loop
//     starts; failure to create it is fatal to the whole bridge.
//   - The inbound pump accepts exactly one sub-stream from the channel and
//     forwards every message it carries as one UDP datagram to the forward
//     address, using an independently bound ephemeral-port socket.
//
// Message boundaries are preserved end to end: one datagram in, one message
// on the wire, one datagram out. Ordering within each direction follows the
// channel's ordering guarantee; the two directions are independent.
//
// Per-message I/O errors terminate only the pump that hit them. The sibling
// pump keeps running, so forwarding can stop in one direction while the
// other continues. Channel establishment and authentication are out of
// scope: the bridge consumes any Channel implementation.
//
// # Lifecycle
//
//  1. New binds the listen socket and resolves the forward address
//  2. Run creates the send sub-stream, binds the ephemeral socket, and
//     launches both pumps
//  3. Cancelling Run's context closes the sockets and streams so both
//     pumps unblock
//  4. Run returns once both pumps have terminated, then closes the channel
package bridge
