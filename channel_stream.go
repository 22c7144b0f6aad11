package librt

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

// streamChannel is the simplex PersistentChannel variant: a long-lived
// HTTP GET whose chunked body is decoded incrementally by a ChunkDecoder.
// It shares the Channel contract and the reconnection policy with the
// duplex variant; Send is a usage error since the stream is receive-only.
type streamChannel struct {
	opts    Options
	source  ParamsSource
	client  *http.Client
	logger  Logger
	backoff *BackoffController
	emitter emitter[EventType, Event]

	inbox inbox

	mu          sync.Mutex
	state       ChannelState
	manualClose bool
	dialing     bool
	gen         uint64
	cancelBody  context.CancelFunc
	ctx         context.Context

	watchOnce sync.Once
	closeOnce sync.Once
	closeC    CloseChan
}

// NewStreamChannel builds a receive-only channel over a streaming HTTP
// response (SSE or any delimiter-framed chunked body).
func NewStreamChannel(source ParamsSource, opts Options) Channel {
	opts = opts.withDefaults()

	client := opts.HTTPClient
	if client == nil {
		// No client timeout: the body is read indefinitely. Stalls are
		// detected by the server dropping the connection or by the caller
		// cancelling.
		client = &http.Client{}
	}

	c := &streamChannel{
		opts:    opts,
		source:  source,
		client:  client,
		logger:  opts.Logger.WithField("channel", "stream"),
		emitter: newChannelEmitter(opts),
		state:   StateIdle,
		closeC:  make(CloseChan),
	}

	cfg := opts.Backoff
	userEnabled := cfg.Enabled
	cfg.Enabled = func() bool {
		c.mu.Lock()
		closed := c.manualClose
		c.mu.Unlock()
		if closed {
			return false
		}
		if userEnabled != nil {
			return userEnabled()
		}
		return true
	}
	c.backoff = NewBackoffController(cfg, c.reconnect)

	return c
}

func (c *streamChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state == StateOpen || c.dialing {
		c.mu.Unlock()
		return nil
	}
	if c.ctx == nil {
		c.ctx = ctx
	}
	c.mu.Unlock()

	c.watchOnce.Do(func() {
		go c.watchCancel(ctx)
	})

	return c.dial(ctx)
}

func (c *streamChannel) watchCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.Close()
	case <-c.closeC:
	}
}

func (c *streamChannel) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.dialing || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.state = StateConnecting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	p, err := c.source.Get(ctx)
	if err != nil {
		return c.connectFailed(err)
	}

	bodyCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(bodyCtx, http.MethodGet, p.URL.String(), nil)
	if err != nil {
		cancel()
		return c.connectFailed(errors.Wrap(ErrCannotConnect, err.Error()))
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return c.connectFailed(errors.Wrap(ErrCannotConnect, err.Error()))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusTooManyRequests {
			return c.connectFailed(ErrRateLimit)
		}
		return c.connectFailed(
			errors.Wrapf(ErrCannotConnect, "unexpected status %d", resp.StatusCode),
		)
	}

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		_ = resp.Body.Close()
		cancel()
		return ErrChannelClosed
	}
	c.gen++
	gen := c.gen
	c.state = StateOpen
	c.cancelBody = cancel
	c.mu.Unlock()

	c.backoff.RecordSuccess()
	c.emitter.Emit(EventConnect, Event{Type: EventConnect})

	go c.streamLoop(bodyCtx, resp, gen)

	return nil
}

func (c *streamChannel) connectFailed(err error) error {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	c.emitter.Emit(EventError, Event{Type: EventError, Err: err})

	if scheduled, delay := c.backoff.RecordFailure(); scheduled {
		c.logger.Infof(
			"cannot connect, retrying in %s (attempt %d): %s",
			delay, c.backoff.Attempts(), err,
		)
	}

	return err
}

func (c *streamChannel) reconnect() {
	c.mu.Lock()
	ctx := c.ctx
	closed := c.manualClose
	c.mu.Unlock()

	if closed || ctx == nil {
		return
	}

	c.emitter.Emit(EventReconnect, Event{Type: EventReconnect})

	if err := c.dial(ctx); err != nil {
		c.logger.Warnf("reconnect attempt failed: %s", err)
	}
}

// streamLoop decodes the response body until it ends, errors or is
// cancelled. Every decoded frame renews the liveness signal, covering
// servers that only prove health through application-level messages.
func (c *streamChannel) streamLoop(ctx context.Context, resp *http.Response, gen uint64) {
	defer resp.Body.Close()

	dec := NewChunkDecoder(DecoderOptions{
		Delimiter: c.opts.Delimiter,
		Transform: c.opts.Transform,
	})

	err := dec.Decode(ctx, resp.Body, func(v any) error {
		c.backoff.RecordSuccess()
		c.inbox.dispatch(v)
		return nil
	})

	c.connLost(gen, err)
}

func (c *streamChannel) connLost(gen uint64, cause error) {
	c.mu.Lock()
	if c.manualClose || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	cancel := c.cancelBody
	c.cancelBody = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.emitter.Emit(EventDisconnect, Event{Type: EventDisconnect, Err: cause})

	// A decode-loop failure (transform or emit error) has its own failure
	// domain: it is surfaced, but the channel stays live and redials.
	if cause != nil && !errors.Is(cause, context.Canceled) {
		c.emitter.Emit(EventError, Event{Type: EventError, Err: cause})
	}

	if scheduled, delay := c.backoff.RecordFailure(); scheduled {
		c.logger.Infof("stream lost, retrying in %s: %v", delay, cause)
	}
}

// Send is unsupported: the stream is receive-only. Queueing data that can
// never be flushed would be a silent black hole.
func (c *streamChannel) Send(any) error {
	c.mu.Lock()
	closed := c.manualClose
	c.mu.Unlock()

	if closed {
		return ErrChannelClosed
	}
	return ErrSendUnsupported
}

func (c *streamChannel) SetHandler(h Handler) {
	c.inbox.set(h)
}

func (c *streamChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *streamChannel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.manualClose = true
		c.state = StateClosing
		cancel := c.cancelBody
		c.cancelBody = nil
		c.mu.Unlock()

		c.inbox.clear()
		c.backoff.Dispose()

		if cancel != nil {
			cancel()
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		c.emitter.Emit(EventClose, Event{Type: EventClose})
		c.emitter.Close()
		close(c.closeC)
	})
}

func (c *streamChannel) CloseChan() CloseChan {
	return c.closeC
}
