package es

import "context"

// Publisher offers committed batches to an external distribution channel
// (message bus or equivalent) in commit order. Delivery to external
// subscribers is at-least-once; subscribers are expected to deduplicate
// using the envelope ID.
type Publisher interface {
	Publish(ctx context.Context, batch []Envelope) error
}

type PublisherFunc func(ctx context.Context, batch []Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, batch []Envelope) error {
	return f(ctx, batch)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, []Envelope) error { return nil }

// NopPublisher returns a publisher that drops every batch. It is the default
// when no external channel is configured.
func NopPublisher() Publisher { return nopPublisher{} }
