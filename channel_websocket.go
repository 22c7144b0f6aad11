package librt

import (
	"context"
	"strings"
	"sync"
	"time"
)

// wsChannel is the duplex PersistentChannel variant. It owns one
// wsTransport at a time, queues outbound messages while disconnected and
// flushes them in FIFO order on open, and drives reconnection through its
// BackoffController on every non-manual loss.
type wsChannel struct {
	opts    Options
	source  ParamsSource
	factory transportFactory
	logger  Logger
	backoff *BackoffController
	emitter emitter[EventType, Event]

	inbox inbox

	mu          sync.Mutex
	state       ChannelState
	manualClose bool
	dialing     bool
	recycling   bool
	tr          transport
	gen         uint64
	queued      []Message
	ctx         context.Context

	watchOnce sync.Once
	closeOnce sync.Once
	closeC    CloseChan
}

// NewWebsocketChannel builds a duplex channel dialing source's URL with
// fasthttp/websocket. The channel is inert until Connect.
func NewWebsocketChannel(source ParamsSource, opts Options) Channel {
	c := newWSChannel(source, opts, nil)
	c.factory = newWSTransportFactory(c.opts.Dialer, c.logger, ErrorAdapters{})
	return c
}

func newWSChannel(source ParamsSource, opts Options, factory transportFactory) *wsChannel {
	opts = opts.withDefaults()

	c := &wsChannel{
		opts:    opts,
		source:  source,
		factory: factory,
		logger:  opts.Logger.WithField("channel", "websocket"),
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

func (c *wsChannel) Connect(ctx context.Context) error {
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

// watchCancel funnels external cancellation into the manual-close path.
func (c *wsChannel) watchCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.Close()
	case <-c.closeC:
	}
}

func (c *wsChannel) dial(ctx context.Context) error {
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

	tr := c.factory(p)
	if err := tr.Open(ctx); err != nil {
		return c.connectFailed(err)
	}

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		tr.Close()
		return ErrChannelClosed
	}
	c.tr = tr
	c.gen++
	gen := c.gen
	c.state = StateOpen
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	c.backoff.RecordSuccess()

	// Flush the outbound queue before spawning the read loop so queued
	// sends hit the wire ahead of any new inbound handling.
	for _, m := range queued {
		if werr := tr.Write(m); werr != nil {
			c.logger.Warnf("flush queued message: %s", werr)
			break
		}
	}

	c.emitter.Emit(EventConnect, Event{Type: EventConnect})

	go c.readLoop(tr, gen)
	if c.opts.PingInterval > 0 {
		go c.keepAlive(tr, gen)
	}
	if c.opts.ReopenInterval > 0 {
		go c.reopenLoop(tr, gen)
	}

	return nil
}

// connectFailed reports a dial error and hands the failure to the backoff
// controller, which may schedule another dial.
func (c *wsChannel) connectFailed(err error) error {
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

// reconnect is the backoff timer callback.
func (c *wsChannel) reconnect() {
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

func (c *wsChannel) readLoop(tr transport, gen uint64) {
	for {
		m, err := tr.Read()
		if err != nil {
			c.connLost(tr, gen, err)
			return
		}

		switch {
		case m.Type().IsBinary():
			c.inbox.dispatch(m.Data())
		case m.Type().IsData():
			c.inbox.dispatch(decodeFrame(strings.TrimSpace(string(m.Data()))))
		default:
			// control frames are handled on the transport
		}
	}
}

// connLost runs once per connection when its read loop dies. Stale
// generations (a newer connection already exists) are ignored; manual
// closure stops everything; a planned recycle redials immediately; any
// other loss goes through the backoff controller.
func (c *wsChannel) connLost(tr transport, gen uint64, cause error) {
	tr.Close()

	c.mu.Lock()
	if c.manualClose || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.tr = nil
	recycling := c.recycling
	c.recycling = false
	c.mu.Unlock()

	c.emitter.Emit(EventDisconnect, Event{Type: EventDisconnect, Err: cause})

	if recycling {
		c.logger.Infof("recycling connection #%d", gen)
		go c.reconnect()
		return
	}

	if isAbnormalClose(cause) {
		c.emitter.Emit(EventError, Event{Type: EventError, Err: cause})
	}

	if scheduled, delay := c.backoff.RecordFailure(); scheduled {
		c.logger.Infof("connection lost, retrying in %s: %s", delay, cause)
	}
}

// keepAlive sends periodic pings so intermediaries keep the link open.
func (c *wsChannel) keepAlive(tr transport, gen uint64) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeC:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.gen || c.state != StateOpen
			c.mu.Unlock()
			if stale {
				return
			}
			if err := tr.Write(NewPingMessage(nil)); err != nil {
				return
			}
		}
	}
}

// reopenLoop closes the current connection once ReopenInterval elapses.
// The read loop observes the loss flagged as a recycle and redials without
// waiting out a backoff delay.
func (c *wsChannel) reopenLoop(tr transport, gen uint64) {
	timer := time.NewTimer(c.opts.ReopenInterval)
	defer timer.Stop()

	select {
	case <-c.closeC:
	case <-timer.C:
		c.mu.Lock()
		if gen != c.gen || c.manualClose {
			c.mu.Unlock()
			return
		}
		c.recycling = true
		c.mu.Unlock()

		tr.Close()
	}
}

func (c *wsChannel) Send(data any) error {
	m, err := encodePayload(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.state != StateOpen || c.tr == nil {
		if c.opts.MaxQueued > 0 && len(c.queued) >= c.opts.MaxQueued {
			c.queued = c.queued[1:]
			c.logger.Warnln("outbound queue full, dropping oldest message")
		}
		c.queued = append(c.queued, m)
		c.mu.Unlock()
		return nil
	}
	tr := c.tr
	c.mu.Unlock()

	return tr.Write(m)
}

func (c *wsChannel) SetHandler(h Handler) {
	c.inbox.set(h)
}

func (c *wsChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsChannel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.manualClose = true
		c.state = StateClosing
		tr := c.tr
		c.tr = nil
		c.queued = nil
		c.mu.Unlock()

		c.inbox.clear()
		c.backoff.Dispose()

		if tr != nil {
			tr.Close()
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		c.emitter.Emit(EventClose, Event{Type: EventClose})
		c.emitter.Close()
		close(c.closeC)
	})
}

func (c *wsChannel) CloseChan() CloseChan {
	return c.closeC
}
