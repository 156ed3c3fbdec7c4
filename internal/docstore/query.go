package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "realtime_chat/pkg/errors"
)

// normalizeData round-trips data through JSON so that every backend stores
// and returns the same value shapes (numbers as float64, times as strings).
func normalizeData(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: document data: %v", apperrors.ErrValidation, err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: document data: %v", apperrors.ErrValidation, err)
	}
	return out, nil
}

func cloneDocument(d *Document) *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Data = cloneMap(d.Data)
	return &out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

func fieldValue(d *Document, field string) (interface{}, bool) {
	if field == FieldID {
		return d.ID, true
	}
	v, ok := d.Data[field]
	return v, ok
}

func matches(d *Document, conds []Condition) bool {
	for _, c := range conds {
		v, ok := fieldValue(d, c.Field)
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if !jsonEqual(v, c.Value) {
				return false
			}
		case OpIn:
			candidates, _ := c.Value.([]interface{})
			found := false
			for _, candidate := range candidates {
				if jsonEqual(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func jsonEqual(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

// sortDocuments orders by q.OrderBy (creation time when empty) with commit
// sequence as the tie breaker.
func sortDocuments(docs []*Document, q Query) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareDocuments(docs[i], docs[j], q.OrderBy)
		if c == 0 {
			c = compareInt(docs[i].Seq, docs[j].Seq)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareDocuments(a, b *Document, field string) int {
	if field == "" {
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		}
		return 0
	}
	va, okA := fieldValue(a, field)
	vb, okB := fieldValue(b, field)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return compareValues(va, vb)
}

// compareValues orders mixed types null < bool < number < string.
func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInt(int64(ra), int64(rb))
	}
	switch ta := a.(type) {
	case bool:
		tb := b.(bool)
		switch {
		case ta == tb:
			return 0
		case !ta:
			return -1
		}
		return 1
	case float64:
		tb := b.(float64)
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	case string:
		return strings.Compare(ta, b.(string))
	}
	return 0
}

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// normalizeConditions gives filter values the same shape as stored data.
func normalizeConditions(conds []Condition) ([]Condition, error) {
	out := make([]Condition, len(conds))
	for i, c := range conds {
		v, err := normalizeValue(c.Value)
		if err != nil {
			return nil, err
		}
		if c.Op == OpIn {
			if v == nil {
				v = []interface{}{}
			}
			if _, ok := v.([]interface{}); !ok {
				return nil, fmt.Errorf("%w: filter %q needs a list of values", apperrors.ErrValidation, c.Field)
			}
		}
		out[i] = Condition{Field: c.Field, Op: c.Op, Value: v}
	}
	return out, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: filter value: %v", apperrors.ErrValidation, err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: filter value: %v", apperrors.ErrValidation, err)
	}
	return out, nil
}
