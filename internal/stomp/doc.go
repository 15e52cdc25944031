// Package stomp implements transport.Transport as a STOMP 1.2 client over a
// WebSocket connection.
//
// Each Activate opens one session: dial, CONNECT, wait for CONNECTED, then a
// read loop that forwards MESSAGE and ERROR frames to the listener until the
// socket fails or Deactivate is called. A session reports at most one of
// OnDisconnect or OnError as its terminal callback, and none at all after
// Deactivate.
//
// Subscription handles are the STOMP subscription ids, random UUIDs scoped to
// the session that created them. Releasing a handle of an earlier session is
// a no-op.
package stomp
