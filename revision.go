package eventsourcing

// StreamState is the concurrency requirement a caller attaches to an
// append: the state the stream must be in for the append to succeed.
type StreamState interface {
	streamState()
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) streamState() {}

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists means the stream must already exist.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision requires the stream to be at exactly this version: a stream at
// Revision(n) contains events 1..n, so an append of events n+1..m carries
// Revision(n).
type Revision uint64

func (Revision) streamState() {}
