// Package fixtures provides test doubles for the event store and builders
// for envelopes, used by the package's own tests and available to
// consumers testing code built on the library.
package fixtures

import (
	"context"
	"sync"

	es "github.com/corefold/eventsourcing"
)

var _ es.EventStore = (*StoreSpy)(nil)

// StoreSpy is a configurable in-memory EventStore double. It tracks calls,
// serves pre-populated streams, and allows injecting failures.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	LoadStreamFn     func(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error)
	LoadStreamFromFn func(ctx context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error)
	LoadFromAllFn    func(ctx context.Context, position uint64) (*es.Iterator[*es.Envelope], error)
	SaveFn           func(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error)
	CloseFn          func() error

	// Call tracking
	LoadStreamCalls     int
	LoadStreamFromCalls int
	LoadFromAllCalls    int
	SaveCalls           int
	CloseCalls          int

	// Captured arguments from last call
	LastSaveEvents   []es.Envelope
	LastSaveState    es.StreamState
	LastLoadStreamID string

	events map[string][]*es.Envelope

	loadErr error
	saveErr error
}

// NewStoreSpy creates a StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*es.Envelope),
	}
}

// WithEnvelopes pre-populates a stream.
func (s *StoreSpy) WithEnvelopes(streamID string, envelopes ...*es.Envelope) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[streamID] = envelopes
	return s
}

// WithHistory pre-populates a stream from a pending-event sequence, the
// way a repository save would have stored it.
func (s *StoreSpy) WithHistory(events ...*es.Event) *StoreSpy {
	if len(events) == 0 {
		return s
	}
	envelopes := es.WrapEvents(events, nil)
	ptrs := make([]*es.Envelope, len(envelopes))
	for i := range envelopes {
		envelopes[i].GlobalVersion = uint64(i + 1)
		ptrs[i] = &envelopes[i]
	}
	return s.WithEnvelopes(envelopes[0].StreamID, ptrs...)
}

// FailOnLoad makes all load operations return err.
func (s *StoreSpy) FailOnLoad(err error) *StoreSpy {
	s.loadErr = err
	return s
}

// FailOnSave makes all save operations return err.
func (s *StoreSpy) FailOnSave(err error) *StoreSpy {
	s.saveErr = err
	return s
}

func (s *StoreSpy) LoadStream(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamCalls++
	s.LastLoadStreamID = id
	s.mu.Unlock()

	if s.LoadStreamFn != nil {
		return s.LoadStreamFn(ctx, id)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	if events == nil {
		return nil, es.ErrStreamNotFound
	}
	return es.NewSliceIterator(events), nil
}

func (s *StoreSpy) LoadStreamFrom(ctx context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error) {
	s.mu.Lock()
	s.LoadStreamFromCalls++
	s.LastLoadStreamID = id
	s.mu.Unlock()

	if s.LoadStreamFromFn != nil {
		return s.LoadStreamFromFn(ctx, id, version)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	events := s.events[id]
	s.mu.Unlock()

	if events == nil {
		return nil, es.ErrStreamNotFound
	}

	var filtered []*es.Envelope
	for _, e := range events {
		if e.Version > version {
			filtered = append(filtered, e)
		}
	}
	return es.NewSliceIterator(filtered), nil
}

func (s *StoreSpy) LoadFromAll(ctx context.Context, position uint64) (*es.Iterator[*es.Envelope], error) {
	s.mu.Lock()
	s.LoadFromAllCalls++
	s.mu.Unlock()

	if s.LoadFromAllFn != nil {
		return s.LoadFromAllFn(ctx, position)
	}
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	s.mu.Lock()
	var all []*es.Envelope
	for _, events := range s.events {
		for _, e := range events {
			if e.GlobalVersion > position {
				all = append(all, e)
			}
		}
	}
	s.mu.Unlock()

	return es.NewSliceIterator(all), nil
}

func (s *StoreSpy) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
	s.mu.Lock()
	s.SaveCalls++
	s.LastSaveEvents = events
	s.LastSaveState = state
	s.mu.Unlock()

	if s.SaveFn != nil {
		return s.SaveFn(ctx, events, state)
	}
	if s.saveErr != nil {
		return es.AppendResult{Successful: false}, s.saveErr
	}
	if len(events) == 0 {
		return es.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID

	s.mu.Lock()
	for i := range events {
		env := events[i]
		s.events[streamID] = append(s.events[streamID], &env)
	}
	nextVersion := uint64(len(s.events[streamID]))
	s.mu.Unlock()

	return es.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: nextVersion,
	}, nil
}

func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Reset clears all call counts and stored data.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LoadStreamCalls = 0
	s.LoadStreamFromCalls = 0
	s.LoadFromAllCalls = 0
	s.SaveCalls = 0
	s.CloseCalls = 0
	s.LastSaveEvents = nil
	s.LastSaveState = nil
	s.LastLoadStreamID = ""
	s.events = make(map[string][]*es.Envelope)
	s.loadErr = nil
	s.saveErr = nil
}

// Pre-built store scenarios.

// EmptyStore returns a StoreSpy with no streams.
func EmptyStore() *StoreSpy {
	return NewStoreSpy()
}

// FailingStore returns a StoreSpy that fails every operation with err.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnLoad(err).FailOnSave(err)
}

// ConflictingStore returns a StoreSpy whose saves always report a version
// conflict.
func ConflictingStore(streamID string, expected, actual uint64) *StoreSpy {
	store := NewStoreSpy()
	store.SaveFn = func(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
		return es.AppendResult{Successful: false}, &es.VersionError{
			Stream:   streamID,
			Expected: expected,
			Actual:   actual,
		}
	}
	return store
}
