package eventsourcing

import "context"

// EventBus distributes stored events to interested consumers after they
// have been persisted. Delivery guarantees are implementation-specific;
// ordering across streams is not guaranteed.
type EventBus interface {
	// Dispatch publishes one stored event.
	Dispatch(ctx context.Context, env *Envelope) error

	// Close shuts the bus down and waits for in-flight deliveries.
	Close() error
}
