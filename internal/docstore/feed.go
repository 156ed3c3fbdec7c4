package docstore

import (
	"context"
	"sync"
)

type ChangeOp string

const (
	ChangeAdded    ChangeOp = "added"
	ChangeModified ChangeOp = "modified"
	ChangeRemoved  ChangeOp = "removed"
)

// Change tells listeners that a document of a collection was written. It
// carries no content: listeners re-read the store.
type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Op         ChangeOp `json:"op"`
}

// Feed fans committed changes out to live queries.
type Feed interface {
	Publish(ctx context.Context, changes ...Change) error
	// Listen returns a channel of changes to collection. The listener is
	// registered before Listen returns; the channel is closed once ctx is done.
	Listen(ctx context.Context, collection string) (<-chan Change, error)
	Close() error
}

const listenerBuffer = 64

// LocalFeed is an in-process Feed for single-node stores.
type LocalFeed struct {
	mu        sync.RWMutex
	listeners map[string]map[chan Change]struct{}
	closed    bool
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{
		listeners: make(map[string]map[chan Change]struct{}),
	}
}

func (f *LocalFeed) Publish(_ context.Context, changes ...Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, change := range changes {
		for ch := range f.listeners[change.Collection] {
			select {
			case ch <- change:
			default:
				// A full buffer already holds a pending wake-up for this listener.
			}
		}
	}
	return nil
}

func (f *LocalFeed) Listen(ctx context.Context, collection string) (<-chan Change, error) {
	ch := make(chan Change, listenerBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if f.listeners[collection] == nil {
		f.listeners[collection] = make(map[chan Change]struct{})
	}
	f.listeners[collection][ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.remove(collection, ch)
	}()

	return ch, nil
}

func (f *LocalFeed) remove(collection string, ch chan Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.listeners[collection]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(f.listeners, collection)
	}
	close(ch)
}

func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for collection, set := range f.listeners {
		for ch := range set {
			close(ch)
		}
		delete(f.listeners, collection)
	}
	return nil
}
