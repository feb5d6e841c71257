package eventsourcing

import (
	"context"
)

// EventStore is the contract for an append-only event store. A store
// persists envelopes per stream in version order and supports the
// stream-state concurrency checks on append.
//
// Implementations must guarantee:
//   - Events for a given stream are stored and yielded in version order.
//   - An append with Revision(n) succeeds only when the stream is at
//     exactly version n; a mismatch fails with a VersionError and writes
//     nothing.
//   - Iterators from the Load methods yield oldest to newest.
type EventStore interface {

	// Save appends all envelopes to the stream they name. The envelopes
	// must all belong to one stream and carry contiguous versions. The
	// state argument is the concurrency requirement: Any, NoStream,
	// StreamExists or Revision(n).
	Save(ctx context.Context, events []Envelope, state StreamState) (AppendResult, error)

	// LoadStream yields the stream's full history in version order. A
	// stream with no events fails with ErrStreamNotFound.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom yields the stream's history after the given version:
	// an aggregate at version n resumes with LoadStreamFrom(id, n).
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadFromAll yields events across all streams after the given global
	// position, in the order the store appended them.
	LoadFromAll(ctx context.Context, position uint64) (*Iterator[*Envelope], error)

	// Close releases any resources held by the store. Implementations
	// should make Close idempotent.
	Close() error
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	Successful          bool
	StreamID            string
	NextExpectedVersion uint64
}
