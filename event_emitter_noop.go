package librt

type emitter[K comparable, V any] interface {
	// On registers a new listener for the given event.
	On(event K, listener callback[V])

	// Emit triggers all listeners registered for the given event
	// synchronously.
	Emit(event K, data V)

	// Close removes all listeners to prevent memory leaks.
	Close()
}

type noopEmitter[K comparable, V any] struct{}

func (noopEmitter[K, V]) On(K, callback[V]) {}

func (noopEmitter[K, V]) Emit(K, V) {}

func (noopEmitter[K, V]) Close() {}
