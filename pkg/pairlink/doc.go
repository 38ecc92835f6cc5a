// Package pairlink provides the public types for a two-node high-availability link.
//
// A pairlink node runs two links toward the same peer at the same time:
//   - Listener: the passive role, accepting the peer's inbound connection
//   - Connector: the active role, dialing the peer and reconnecting forever
//
// The node reports the pair as healthy only while both links are connected.
// Either link dropping produces an "unhealthy" notification; when both links drop
// within the debounce window only one notification is emitted.
//
// Outbound messages are routed through the Connector when it is connected and
// fall back to the Listener otherwise. Nothing is queued across disconnects:
// a send while neither link is up returns false and the caller decides what to do.
//
// The interfaces use Go idioms:
//   - context.Context for the asynchronous send variants
//   - Explicit error returns for configuration and validation failures
//   - Observer interfaces instead of mutable callback fields
//   - io.Closer for resource cleanup
//
// Example usage:
//
//	node, err := coordinator.NewNode(cfg)
//	if err != nil {
//		return err
//	}
//	defer node.Close()
//
//	cancel := node.Subscribe(pairlink.ObserverFuncs{
//		Healthy:   func() { log.Println("pair is healthy") },
//		Unhealthy: func() { log.Println("pair is unhealthy") },
//		Message: func(msg pairlink.Message) {
//			data, _ := msg.Bytes()
//			log.Printf("received %d bytes", len(data))
//		},
//	})
//	defer cancel()
//
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//
//	if !node.Send([]byte("hello"), map[string]any{"kind": "greeting"}) {
//		// link is down, retry later
//	}
package pairlink
