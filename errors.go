package librt

import (
	"net/url"

	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")

	// ErrChannelClosed is returned by operations on a channel after Close
	// has been called. Closed channels never reconnect.
	ErrChannelClosed = errors.New("channel has been closed")

	// ErrUnsupportedPayload is returned by Send when the payload cannot be
	// serialized for the wire.
	ErrUnsupportedPayload = errors.New("unsupported payload type")

	// ErrSendUnsupported is returned by Send on simplex channels.
	ErrSendUnsupported = errors.New("channel is receive-only")
)

type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}
