package librt

import (
	"context"
)

type (
	// transport is the uniform interface behind which the physical
	// connection primitives are treated as black boxes. One transport
	// instance backs exactly one dial; reconnection creates a fresh one.
	transport interface {
		// Open dials the remote end. Blocking; returns once the
		// connection is established or failed.
		Open(ctx context.Context) error

		// Read blocks until the next inbound message or a connection
		// loss. After an error the transport is unusable.
		Read() (Message, error)

		// Write sends a message over the wire.
		Write(m Message) error

		// Close releases the connection. Idempotent.
		Close()
	}

	transportFactory func(p ConnectParams) transport
)

type noopTransport struct{}

func (noopTransport) Open(context.Context) error { return nil }

func (noopTransport) Read() (Message, error) { return nil, ErrConnectionClosed }

func (noopTransport) Write(Message) error { return nil }

func (noopTransport) Close() {}
