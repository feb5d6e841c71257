package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/corefold/eventsourcing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ eventsourcing.EventStore = (*FileStore)(nil)

// FileStore persists each event as one JSON document under
// <dir>/<stream-id>/, with a symlink index under <dir>/all/ ordered by
// global version. It is meant for examples and local development, not for
// concurrent writers across processes.
type FileStore struct {
	baseDir   string
	mu        sync.Mutex
	bus       chan *eventsourcing.Envelope
	closed    bool
	globalSeq uint64
}

// storedEvent is the on-disk document. Field values are kept as their JSON
// forms; the declared schema restores the typed values on load.
type storedEvent struct {
	EventID           uuid.UUID      `json:"event_id"`
	StreamID          string         `json:"stream_id"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	EventName         string         `json:"event_name"`
	OriginatorID      uuid.UUID      `json:"originator_id"`
	OriginatorVersion uint64         `json:"originator_version"`
	GlobalVersion     uint64         `json:"global_version"`
	Timestamp         time.Time      `json:"timestamp"`
	Fields            map[string]any `json:"fields,omitempty"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "all"), 0o755); err != nil {
		return nil, fmt.Errorf("create event store directory: %w", err)
	}
	f := &FileStore{
		baseDir: dir,
		bus:     make(chan *eventsourcing.Envelope, 100),
	}
	if err := f.restoreGlobalSeq(); err != nil {
		return nil, err
	}
	return f, nil
}

// restoreGlobalSeq resumes the global sequence from the all/ index so a
// reopened store keeps numbering where it left off.
func (f *FileStore) restoreGlobalSeq() error {
	entries, err := os.ReadDir(filepath.Join(f.baseDir, "all"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		ver, ok := versionFromName(e.Name())
		if ok && ver > f.globalSeq {
			f.globalSeq = ver
		}
	}
	return nil
}

func (f *FileStore) streamDir(id string) string {
	return filepath.Join(f.baseDir, id)
}

func (f *FileStore) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	if len(events) == 0 {
		return eventsourcing.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return eventsourcing.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, eventsourcing.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return eventsourcing.AppendResult{Successful: false},
			fmt.Errorf("save events to stream %q: %w", streamID, eventsourcing.ErrStoreClosed)
	}

	sdir := f.streamDir(streamID)
	if err := os.MkdirAll(sdir, 0o755); err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	currentVersion, err := countEvents(sdir)
	if err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	switch rev := state.(type) {
	case eventsourcing.Any:
		// No concurrency check.
	case eventsourcing.NoStream:
		if currentVersion != 0 {
			return eventsourcing.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamExists)
		}
	case eventsourcing.StreamExists:
		if currentVersion == 0 {
			return eventsourcing.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamNotFound)
		}
	case eventsourcing.Revision:
		if currentVersion != uint64(rev) {
			return eventsourcing.AppendResult{Successful: false}, &eventsourcing.VersionError{
				Stream:   streamID,
				Expected: uint64(rev),
				Actual:   currentVersion,
			}
		}
	default:
		return eventsourcing.AppendResult{Successful: false},
			fmt.Errorf("unsupported stream state for stream %q: %w", streamID, eventsourcing.ErrInvalidRevision)
	}

	for i := range events {
		select {
		case <-ctx.Done():
			return eventsourcing.AppendResult{Successful: false}, ctx.Err()
		default:
		}
		f.globalSeq++
		events[i].GlobalVersion = f.globalSeq

		ev := events[i].Event
		doc := storedEvent{
			EventID:           events[i].EventID,
			StreamID:          events[i].StreamID,
			Metadata:          events[i].Metadata,
			EventName:         ev.Name(),
			OriginatorID:      ev.OriginatorID(),
			OriginatorVersion: ev.OriginatorVersion(),
			GlobalVersion:     events[i].GlobalVersion,
			Timestamp:         ev.Timestamp(),
			Fields:            ev.Fields(),
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}

		fname := fmt.Sprintf("%010d-%s.json", ev.OriginatorVersion(), ev.Name())
		path := filepath.Join(sdir, fname)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}

		allDir := filepath.Join(f.baseDir, "all")
		link := filepath.Join(allDir, fmt.Sprintf("%010d-%s.json", events[i].GlobalVersion, ev.Name()))
		rel, err := filepath.Rel(allDir, path)
		if err != nil {
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}
		if err := os.Symlink(rel, link); err != nil {
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}

		currentVersion++

		select {
		case f.bus <- &events[i]:
		default:
			// Drop if the feed is full.
		}
	}

	return eventsourcing.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion,
	}, nil
}

func (f *FileStore) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return f.LoadStreamFrom(ctx, id, 0)
}

func (f *FileStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	if f.isClosed() {
		return nil, fmt.Errorf("load stream %q: %w", id, eventsourcing.ErrStoreClosed)
	}
	dir := f.streamDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load stream %q: %w", id, eventsourcing.ErrStreamNotFound)
		}
		return nil, eventsourcing.WrapEventStoreError(err)
	}
	return f.loadFromDir(dir, version)
}

func (f *FileStore) LoadFromAll(ctx context.Context, position uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	if f.isClosed() {
		return nil, fmt.Errorf("load all: %w", eventsourcing.ErrStoreClosed)
	}
	return f.loadFromDir(filepath.Join(f.baseDir, "all"), position)
}

func (f *FileStore) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// loadFromDir iterates the documents in dir whose version component is
// greater than from. ReadDir returns names sorted, and the zero-padded
// version prefix makes that the append order.
func (f *FileStore) loadFromDir(dir string, from uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return eventsourcing.NewIteratorFunc(func(ctx context.Context) (*eventsourcing.Envelope, error) {
				return nil, io.EOF
			}), nil
		}
		return nil, eventsourcing.WrapEventStoreError(err)
	}

	idx := 0
	nextFunc := func(ctx context.Context) (*eventsourcing.Envelope, error) {
		for idx < len(files) {
			fi := files[idx]
			idx++
			if fi.IsDir() {
				continue
			}

			ver, ok := versionFromName(fi.Name())
			if !ok || ver <= from {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, fi.Name()))
			if err != nil {
				return nil, eventsourcing.WrapEventStoreError(err)
			}

			var doc storedEvent
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, eventsourcing.WrapEventStoreError(fmt.Errorf("decode %s: %w", fi.Name(), err))
			}

			ev, err := eventsourcing.NewStoredEvent(doc.EventName, doc.OriginatorID, doc.OriginatorVersion, doc.Timestamp, doc.Fields)
			if err != nil {
				return nil, eventsourcing.WrapEventStoreError(fmt.Errorf("rebuild event %q: %w", doc.EventName, err))
			}

			return &eventsourcing.Envelope{
				EventID:       doc.EventID,
				StreamID:      doc.StreamID,
				Metadata:      doc.Metadata,
				Event:         ev,
				Version:       doc.OriginatorVersion,
				GlobalVersion: doc.GlobalVersion,
				OccurredAt:    doc.Timestamp,
			}, nil
		}
		return nil, io.EOF
	}

	return eventsourcing.NewIteratorFunc(nextFunc), nil
}

// Events returns the live feed of saved envelopes.
func (f *FileStore) Events() <-chan *eventsourcing.Envelope {
	return f.bus
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.bus)
	return nil
}

func countEvents(dir string) (uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var n uint64
	for _, fi := range files {
		if !fi.IsDir() {
			n++
		}
	}
	return n, nil
}

func versionFromName(name string) (uint64, bool) {
	prefix, _, found := strings.Cut(name, "-")
	if !found {
		return 0, false
	}
	ver, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return ver, true
}
