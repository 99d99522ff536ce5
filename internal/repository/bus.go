package repository

type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NopBus drops every message. Used when no bus provider is configured.
type NopBus struct{}

func (NopBus) Publish(string, []byte) error { return nil }
