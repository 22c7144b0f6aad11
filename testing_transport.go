package librt

import (
	"context"
	"sync"
)

// fakeTransport is a scripted transport for channel tests. Inbound
// messages and connection losses are injected by the test; writes are
// recorded in order.
type fakeTransport struct {
	mu      sync.Mutex
	params  ConnectParams
	openErr error
	writes  []Message

	inbound   chan Message
	failC     chan error
	closedC   chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(params ConnectParams, openErr error) *fakeTransport {
	return &fakeTransport{
		params:  params,
		openErr: openErr,
		inbound: make(chan Message, 32),
		failC:   make(chan error, 1),
		closedC: make(chan struct{}),
	}
}

func (t *fakeTransport) Open(context.Context) error {
	return t.openErr
}

func (t *fakeTransport) Read() (Message, error) {
	select {
	case m := <-t.inbound:
		return m, nil
	case err := <-t.failC:
		return nil, err
	case <-t.closedC:
		return nil, ErrTerminated
	}
}

func (t *fakeTransport) Write(m Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, m)
	return nil
}

func (t *fakeTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.closedC)
	})
}

// push injects an inbound message as if it arrived over the wire.
func (t *fakeTransport) push(m Message) {
	t.inbound <- m
}

// fail makes the next Read return err, simulating a connection loss.
func (t *fakeTransport) fail(err error) {
	t.failC <- err
}

func (t *fakeTransport) sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.writes))
	copy(out, t.writes)
	return out
}

// fakeTransportFactory hands out fakeTransports, optionally failing the
// first dials with the scripted errors.
type fakeTransportFactory struct {
	mu         sync.Mutex
	openErrs   []error
	transports []*fakeTransport
}

func (f *fakeTransportFactory) factory(p ConnectParams) transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	var openErr error
	if len(f.openErrs) > 0 {
		openErr = f.openErrs[0]
		f.openErrs = f.openErrs[1:]
	}

	tr := newFakeTransport(p, openErr)
	f.transports = append(f.transports, tr)
	return tr
}

func (f *fakeTransportFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

func (f *fakeTransportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}
