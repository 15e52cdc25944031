// Package transport defines the boundary between the stream core and the
// pub/sub protocol client that talks to the broker.
//
// This package defines the core abstractions for the quotestream transport:
//   - Transport: outbound commands (activate, deactivate, subscribe, unsubscribe, publish)
//   - Listener: inbound lifecycle and message callbacks
//   - Handle: opaque token identifying one live broker subscription
//   - Status: connection status as seen by the core
//
// The transport owns framing, heart-beats and the socket. It never touches
// core state: every Listener callback is expected to enqueue work and return.
//
// Example usage:
//
//	// Activate the transport; lifecycle is reported through the listener
//	if err := t.Activate(ctx, listener); err != nil {
//		return err
//	}
//
//	// Once OnConnect fired, attach to a destination
//	handle, err := t.Subscribe("/topic/quotes.SPLK")
//	if err != nil {
//		return err
//	}
//
//	// Release the handle exactly once
//	err = t.Unsubscribe(handle)
package transport
