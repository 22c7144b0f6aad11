package librt

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	// CloseChan signals, by being closed, that a channel is gone for good.
	CloseChan chan struct{}

	// Handler receives decoded inbound values in network-arrival order.
	Handler func(v any)

	// Channel owns one physical connection and presents a stable API
	// across reconnects. Transport losses are absorbed by the reconnection
	// policy; only Close is fatal.
	Channel interface {
		// Connect establishes the underlying transport. It is a no-op on
		// an already connecting or open channel and returns
		// ErrChannelClosed after Close. Cancelling ctx tears the channel
		// down through the same path as Close.
		Connect(ctx context.Context) error
		// Send transmits data immediately when the transport is open and
		// queues it for the next flush otherwise. Payloads that cannot be
		// serialized yield ErrUnsupportedPayload.
		Send(data any) error
		// SetHandler stores h and synchronously replays any inbound
		// values buffered while no handler was attached, in arrival
		// order, exactly once each.
		SetHandler(h Handler)
		// State reports the current lifecycle state.
		State() ChannelState
		// Close tears the channel down permanently and suppresses all
		// future reconnection. Idempotent.
		Close()
		// CloseChan returns a channel closed once Close completes.
		CloseChan() CloseChan
	}

	ChannelFactory func() Channel
)

type ChannelState int32

const (
	StateIdle ChannelState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a channel. The zero value is usable: defaults are
// filled in by the constructors.
type Options struct {
	// Delimiter separates frames on stream transports. Defaults to "\n".
	Delimiter string
	// Backoff tunes the reconnection policy.
	Backoff BackoffConfig
	// MaxQueued bounds the outbound queue while disconnected. Zero means
	// unbounded. On overflow the oldest queued message is dropped.
	MaxQueued int
	// Transform, when set, maps every decoded inbound frame before
	// delivery. Stream transports await it per frame, preserving order.
	Transform TransformFunc
	// PingInterval enables active keep-alive pings on duplex transports.
	PingInterval time.Duration
	// ReopenInterval proactively recycles the connection at a fixed
	// interval, for servers that drop long-lived streams. Recycling a
	// healthy link bypasses the backoff delay.
	ReopenInterval time.Duration

	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)

	// Logger defaults to NopLogger; the library never logs to a global
	// sink.
	Logger Logger

	// Dialer overrides the websocket dialer (duplex variant only).
	Dialer *websocket.Dialer
	// HTTPClient overrides the HTTP client (stream variant only).
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.Logger == nil {
		o.Logger = NopLogger()
	}
	return o
}

// newChannelEmitter wires the caller notification callbacks onto a fresh
// emitter. Callbacks are fire-and-forget; no return value is consumed.
// Channels without any callback get a noop emitter.
func newChannelEmitter(opts Options) emitter[EventType, Event] {
	if opts.OnConnect == nil && opts.OnDisconnect == nil && opts.OnError == nil {
		return noopEmitter[EventType, Event]{}
	}

	em := NewEventEmitter[EventType, Event]()

	if opts.OnConnect != nil {
		em.On(EventConnect, func(Event) {
			opts.OnConnect()
		})
	}
	if opts.OnDisconnect != nil {
		em.On(EventDisconnect, func(ev Event) {
			opts.OnDisconnect(ev.Err)
		})
	}
	if opts.OnError != nil {
		em.On(EventError, func(ev Event) {
			opts.OnError(ev.Err)
		})
	}

	return em
}

// encodePayload serializes outbound data. Strings and raw JSON pass
// through as text frames, byte slices as binary frames, ready-made
// Messages untouched; anything else must survive json.Marshal or the call
// is a usage error.
func encodePayload(data any) (Message, error) {
	switch v := data.(type) {
	case Message:
		return v, nil
	case string:
		return NewDataMessage([]byte(v)), nil
	case json.RawMessage:
		return NewDataMessage(v), nil
	case []byte:
		return NewBinaryMessage(v), nil
	default:
		bts, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrap(ErrUnsupportedPayload, err.Error())
		}
		return NewDataMessage(bts), nil
	}
}

// inbox buffers inbound values until a handler is attached, then replays
// them in order exactly once. deliverMu serializes replay against live
// delivery so ordering holds across the buffered-to-live transition.
type inbox struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	handler   Handler
	pending   []any
}

func (b *inbox) dispatch(v any) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	h := b.handler
	if h == nil {
		b.pending = append(b.pending, v)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	h(v)
}

func (b *inbox) set(h Handler) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.handler = h
	replay := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, v := range replay {
		h(v)
	}
}

func (b *inbox) clear() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}
