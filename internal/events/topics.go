package events

// Topic binds a topic name to the payload type it carries.
type Topic[T any] struct {
	Name string
}

// Subscribe registers a typed handler. Payloads of another type emitted on the
// same topic name are ignored by this handler.
func Subscribe[T any](b *Bus, t Topic[T], fn func(T)) CancelFunc {
	return b.Subscribe(t.Name, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// Emit publishes a typed payload.
func Emit[T any](b *Bus, t Topic[T], payload T) {
	b.Emit(t.Name, payload)
}
