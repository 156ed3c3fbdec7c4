// Package docstore is an ordered document store with live query
// subscriptions. Documents live in named collections as flat key/value maps;
// the store assigns ids, creation timestamps and commit order, so clients
// never order by their own clocks.
package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "realtime_chat/pkg/errors"
)

// FieldID addresses the document id in a Condition or Query.OrderBy.
const FieldID = "__id__"

type Document struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Data       map[string]interface{} `json:"data"`
	Version    int64                  `json:"version"`
	Seq        int64                  `json:"seq"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

func In(field string, values ...interface{}) Condition {
	if values == nil {
		values = []interface{}{}
	}
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Query selects documents of one collection. Results are ordered by the
// server creation time unless OrderBy names a data field; ties always fall
// back to commit order.
type Query struct {
	Collection string
	Where      []Condition
	OrderBy    string
	Descending bool
	Limit      int
}

func (q Query) Validate() error {
	if err := validateCollection(q.Collection); err != nil {
		return err
	}
	for _, c := range q.Where {
		if !validField(c.Field) {
			return fmt.Errorf("%w: invalid filter field %q", apperrors.ErrValidation, c.Field)
		}
		switch c.Op {
		case OpEq:
		case OpIn:
			if _, ok := c.Value.([]interface{}); !ok {
				return fmt.Errorf("%w: %q filter needs a value list", apperrors.ErrValidation, c.Field)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", apperrors.ErrValidation, c.Op)
		}
	}
	if q.OrderBy != "" && !validField(q.OrderBy) {
		return fmt.Errorf("%w: invalid order field %q", apperrors.ErrValidation, q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", apperrors.ErrValidation)
	}
	return nil
}

type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// Write is one mutation in an atomic Commit.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       map[string]interface{}
}

// Create adds a new document. An empty id is replaced with a generated one.
func Create(collection, id string, data map[string]interface{}) Write {
	if id == "" {
		id = NewID()
	}
	return Write{Kind: WriteCreate, Collection: collection, ID: id, Data: data}
}

func Set(collection, id string, data map[string]interface{}) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Data: data}
}

func Update(collection, id string, partial map[string]interface{}) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Data: partial}
}

func Delete(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

func (w Write) validate() error {
	if err := validateCollection(w.Collection); err != nil {
		return err
	}
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("%w: document id is required", apperrors.ErrValidation)
	}
	switch w.Kind {
	case WriteCreate, WriteSet, WriteUpdate, WriteDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown write kind %q", apperrors.ErrValidation, w.Kind)
	}
}

// UpdateFunc receives the complete ordered result of a live query.
type UpdateFunc func(docs []*Document)

// Subscription is a live query. Cancel is idempotent; once it returns the
// update callback is never invoked again. Cancel must not be called from
// inside the callback of the same subscription.
type Subscription interface {
	Cancel()
}

type Store interface {
	Get(ctx context.Context, q Query) ([]*Document, error)
	GetByID(ctx context.Context, collection, id string) (*Document, error)
	Add(ctx context.Context, collection string, data map[string]interface{}) (*Document, error)
	Set(ctx context.Context, collection, id string, data map[string]interface{}) (*Document, error)
	Update(ctx context.Context, collection, id string, partial map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	Commit(ctx context.Context, writes ...Write) error
	SubscribeOrdered(q Query, fn UpdateFunc, opts ...SubscribeOption) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

func NewID() string {
	return uuid.NewString()
}

// Field names are embedded in SQL JSON paths, so they are restricted to
// identifiers.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validField(name string) bool {
	return fieldPattern.MatchString(name)
}

func validateCollection(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: collection is required", apperrors.ErrValidation)
	}
	return nil
}
