package realtime

import "context"

// Handler receives inbound frames.
type Handler func(Message)

// Transport is the underlying bus client. Delivery is at-least-once and may
// be out of order.
//
// Subscribe and Unsubscribe receive the outbound /meta request frame (already
// enriched) so implementations can forward its extensions to the server.
// Acknowledgements are reported through the meta Handler given to the
// Factory, never while the transport holds its own locks.
type Transport interface {
	Subscribe(ctx context.Context, req Message, h Handler) error
	Unsubscribe(ctx context.Context, req Message) error
	// Channels lists the channels currently subscribed on this connection.
	Channels() []string
	Disconnect() error
}

// Factory builds a fresh transport. Connection calls it at construction and
// again after every disconnect, since a disconnected bus client does not
// resubscribe cleanly.
type Factory func(meta Handler) (Transport, error)
