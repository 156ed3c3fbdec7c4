package docstore

import (
	"context"
	"fmt"
	"time"

	"realtime_chat/pkg/logger"
)

const publishTimeout = 5 * time.Second

// backend is the storage half of a DocStore. Implementations assign
// CreatedAt/UpdatedAt/Seq/Version themselves and translate driver failures
// into the pkg/errors taxonomy.
type backend interface {
	query(ctx context.Context, q Query) ([]*Document, error)
	getByID(ctx context.Context, collection, id string) (*Document, error)
	// commit applies all writes atomically and returns the resulting
	// document per write (nil for deletes).
	commit(ctx context.Context, writes []Write) ([]*Document, error)
	ping(ctx context.Context) error
	close() error
}

// DocStore glues a storage backend to a change feed: every committed write is
// published, and live queries re-read the backend when their collection
// changes.
type DocStore struct {
	backend backend
	feed    Feed
	log     logger.Logger
}

var _ Store = (*DocStore)(nil)

func newDocStore(b backend, feed Feed, log logger.Logger) *DocStore {
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &DocStore{backend: b, feed: feed, log: log}
}

func (s *DocStore) Get(ctx context.Context, q Query) ([]*Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.backend.query(ctx, q)
}

func (s *DocStore) GetByID(ctx context.Context, collection, id string) (*Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	return s.backend.getByID(ctx, collection, id)
}

func (s *DocStore) Add(ctx context.Context, collection string, data map[string]interface{}) (*Document, error) {
	docs, err := s.commit(ctx, []Write{Create(collection, "", data)})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *DocStore) Set(ctx context.Context, collection, id string, data map[string]interface{}) (*Document, error) {
	docs, err := s.commit(ctx, []Write{Set(collection, id, data)})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *DocStore) Update(ctx context.Context, collection, id string, partial map[string]interface{}) error {
	_, err := s.commit(ctx, []Write{Update(collection, id, partial)})
	return err
}

func (s *DocStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.commit(ctx, []Write{Delete(collection, id)})
	return err
}

func (s *DocStore) Commit(ctx context.Context, writes ...Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := s.commit(ctx, writes)
	return err
}

func (s *DocStore) Ping(ctx context.Context) error {
	return s.backend.ping(ctx)
}

func (s *DocStore) Close() error {
	feedErr := s.feed.Close()
	if err := s.backend.close(); err != nil {
		return err
	}
	return feedErr
}

func (s *DocStore) commit(ctx context.Context, writes []Write) ([]*Document, error) {
	for _, w := range writes {
		if err := w.validate(); err != nil {
			return nil, err
		}
	}

	docs, err := s.backend.commit(ctx, writes)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, writes)
	return docs, nil
}

// publish runs after the commit is durable, so it must not be cut short by
// the caller's context.
func (s *DocStore) publish(ctx context.Context, writes []Write) {
	changes := make([]Change, 0, len(writes))
	for _, w := range writes {
		changes = append(changes, Change{Collection: w.Collection, ID: w.ID, Op: changeOp(w.Kind)})
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.feed.Publish(pubCtx, changes...); err != nil {
		s.log.Error("Failed to publish document changes", "error", err, "count", len(changes))
	}
}

func changeOp(kind WriteKind) ChangeOp {
	switch kind {
	case WriteCreate:
		return ChangeAdded
	case WriteDelete:
		return ChangeRemoved
	default:
		return ChangeModified
	}
}

func (s *DocStore) SubscribeOrdered(q Query, fn UpdateFunc, opts ...SubscribeOption) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("docstore: nil update func")
	}

	sub := newLiveQuery(q, fn, s.backend, s.feed, s.log, opts...)
	sub.start()
	return sub, nil
}
