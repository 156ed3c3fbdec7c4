package docstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"realtime_chat/pkg/logger"
)

const refreshTimeout = 10 * time.Second

type SubscribeOption func(*liveQuery)

// WithErrorHandler receives failures of the listen or re-read steps. The
// subscription stays active after a failed re-read; the next change retries.
func WithErrorHandler(fn func(error)) SubscribeOption {
	return func(l *liveQuery) {
		l.onErr = fn
	}
}

// liveQuery delivers the full ordered result of a query, once at start and
// again whenever a change to its collection alters the result.
type liveQuery struct {
	q       Query
	fn      UpdateFunc
	onErr   func(error)
	backend backend
	feed    Feed
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu is held for the whole callback, so Cancel waits for a running one.
	mu     sync.Mutex
	closed bool

	// Owned by the run goroutine.
	last      []string
	delivered bool
}

func newLiveQuery(q Query, fn UpdateFunc, b backend, feed Feed, log logger.Logger, opts ...SubscribeOption) *liveQuery {
	ctx, cancel := context.WithCancel(context.Background())
	l := &liveQuery{
		q:       q,
		fn:      fn,
		backend: b,
		feed:    feed,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *liveQuery) start() {
	go l.run()
}

func (l *liveQuery) run() {
	defer close(l.done)

	// Listen before the first read so a commit between the two is not lost.
	changes, err := l.feed.Listen(l.ctx, l.q.Collection)
	if err != nil {
		l.fail(err)
		return
	}

	l.refresh()

	for {
		select {
		case <-l.ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			drain(changes)
			l.refresh()
		}
	}
}

// drain coalesces a burst of changes into a single re-read.
func drain(changes <-chan Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (l *liveQuery) refresh() {
	ctx, cancel := context.WithTimeout(l.ctx, refreshTimeout)
	defer cancel()

	docs, err := l.backend.query(ctx, l.q)
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.fail(err)
		return
	}

	keys := resultKeys(docs)
	if l.delivered && sameKeys(keys, l.last) {
		return
	}
	l.last = keys
	l.delivered = true

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.fn(docs)
}

func (l *liveQuery) fail(err error) {
	l.log.Warn("Live query failed", "error", err, "collection", l.q.Collection)
	if l.onErr == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.onErr(err)
}

func (l *liveQuery) Cancel() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
}

// resultKeys identifies a result by document identity, version and position.
func resultKeys(docs []*Document) []string {
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.ID + "@" + strconv.FormatInt(d.Version, 10)
	}
	return keys
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
