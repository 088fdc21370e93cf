package repository

// MessageBus abstracts the event bus so publishers do not depend on a
// concrete transport.
type MessageBus interface {
	Publish(topic string, data []byte) error
}
