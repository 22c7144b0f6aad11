package librt

import (
	"sync"
	"time"

	"context"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/fasthttp/websocket"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// wsTransport backs one WebSocket dial. Control frames are handled on
	// the transport itself: pings are answered with pongs immediately so
	// the channel never has to care about keep-alive replies, and the
	// peer close code travels back through the Read error.
	wsTransport struct {
		errAdapters ErrorAdapters
		params      ConnectParams
		logger      Logger
		dialer      *websocket.Dialer
		conn        *websocket.Conn
		writeMu     sync.Mutex
		closeOnce   sync.Once
	}
)

const writeDeadline = time.Second

var defaultDialer = &websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

func newWSTransport(
	dialer *websocket.Dialer,
	params ConnectParams,
	logger Logger,
	errorHandlers ErrorAdapters,
) *wsTransport {
	if dialer == nil {
		dialer = defaultDialer
	}
	return &wsTransport{
		errAdapters: errorHandlers,
		dialer:      dialer,
		params:      params,
		logger:      logger.WithField("net", "ws_transport"),
	}
}

func newWSTransportFactory(
	dialer *websocket.Dialer,
	logger Logger,
	errorHandlers ErrorAdapters,
) transportFactory {
	return func(p ConnectParams) transport {
		return newWSTransport(dialer, p, logger, errorHandlers)
	}
}

// Open dials the configured URL. This method is blocking and returns when
// the connection is successfully established or an error occurs.
func (w *wsTransport) Open(_ context.Context) error {
	conn, resp, err := w.dialer.Dial(w.params.URL.String(), w.params.Header)

	if err = w.handleDialError(conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", w.params.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", w.params.URL.String())

	w.conn = conn

	// Answer pings ourselves instead of relying on read-side defaults, as
	// some servers rate-limit unanswered control frames.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		return w.Write(NewPongMessage([]byte(appData)))
	})

	conn.SetPongHandler(func(string) error {
		w.logger.Debugln("<= [PONG]")
		return nil
	})

	return nil
}

// Read blocks on the wire. Connection losses surface as an error wrapping
// ErrConnectionClosed; the websocket close code, when present, stays
// reachable through the error chain for abnormality classification.
func (w *wsTransport) Read() (Message, error) {
	messageType, bts, err := w.conn.ReadMessage()
	if err != nil {
		return nil, errors.WithMessage(err, ErrConnectionClosed.Error())
	}

	switch messageType {
	case websocket.BinaryMessage:
		w.logger.Debugln("<= [BIN]")
		return NewBinaryMessage(bts), nil
	default:
		w.logger.Debugf("<= [DATA] %s", string(bts))
		return NewDataMessage(bts), nil
	}
}

func (w *wsTransport) Write(m Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(writeDeadline)
	_ = w.conn.SetWriteDeadline(deadline)

	var err error

	switch m.Type() {
	case PingMessage:
		w.logger.Debugln("=> [PING]")
		err = w.conn.WriteControl(websocket.PingMessage, m.Data(), deadline)
		if e, ok := err.(net.Error); ok && e.Temporary() {
			err = nil
		}
	case PongMessage:
		w.logger.Debugln("=> [PONG]")
		err = w.conn.WriteControl(websocket.PongMessage, m.Data(), deadline)
	case BinaryMessage:
		w.logger.Debugln("=> [BIN]")
		err = w.conn.WriteMessage(websocket.BinaryMessage, m.Data())
	default:
		w.logger.Debugf("=> [DATA] %s", m.Data())
		err = w.conn.WriteMessage(websocket.TextMessage, m.Data())
	}

	if err != nil {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}

	return nil
}

// Close terminates the connection, announcing the closure to the peer on a
// best-effort basis.
func (w *wsTransport) Close() {
	w.closeOnce.Do(func() {
		if w.conn == nil {
			return
		}
		deadline := time.Now().Add(writeDeadline)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		w.writeMu.Unlock()
		_ = w.conn.Close()
	})
}

func (w *wsTransport) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, rerr := io.ReadAll(resp.Body)
			if rerr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}

// isAbnormalClose reports whether a connection-loss error represents an
// abnormal termination. A clean peer close with the normal-closure code is
// the only loss not considered abnormal; bare I/O failures carry no close
// code and count as abnormal.
func isAbnormalClose(err error) bool {
	if err == nil {
		return false
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code != websocket.CloseNormalClosure
	}

	return true
}
