package librt

import "context"

type noopChannel struct{}

// NewNoopChannel returns a Channel that accepts everything and does
// nothing, for wiring code paths that may run without a live transport.
func NewNoopChannel() Channel { return noopChannel{} }

func (noopChannel) Connect(context.Context) error { return nil }

func (noopChannel) Send(any) error { return nil }

func (noopChannel) SetHandler(Handler) {}

func (noopChannel) State() ChannelState { return StateIdle }

func (noopChannel) Close() {}

func (noopChannel) CloseChan() CloseChan { return nil }
