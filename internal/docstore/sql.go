package docstore

import (
	"strconv"
	"strings"
)

const selectColumns = "id, collection, data, version, seq, created_at, updated_at"

// sqlDialect hides the JSON operators and placeholders that differ between
// the SQL backends.
type sqlDialect interface {
	param(n int) string
	fieldExpr(field string) string
	// bindValue renders a filter value for comparison with fieldExpr.
	bindValue(args *[]interface{}, v interface{}) (string, error)
}

func bindRaw(d sqlDialect, args *[]interface{}, v interface{}) string {
	*args = append(*args, v)
	return d.param(len(*args))
}

func bindCondition(d sqlDialect, args *[]interface{}, field string, v interface{}) (string, error) {
	if field == FieldID {
		return bindRaw(d, args, v), nil
	}
	return d.bindValue(args, v)
}

func conditionExpr(d sqlDialect, field string) string {
	if field == FieldID {
		return "id"
	}
	return d.fieldExpr(field)
}

// buildSelect renders q as a single SELECT over the documents table.
func buildSelect(d sqlDialect, q Query) (string, []interface{}, error) {
	conds, err := normalizeConditions(q.Where)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(conds)+1)

	sb.WriteString("SELECT ")
	sb.WriteString(selectColumns)
	sb.WriteString(" FROM documents WHERE collection = ")
	sb.WriteString(bindRaw(d, &args, q.Collection))

	for _, c := range conds {
		expr := conditionExpr(d, c.Field)
		switch c.Op {
		case OpEq:
			ph, err := bindCondition(d, &args, c.Field, c.Value)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString(" AND " + expr + " = " + ph)
		case OpIn:
			values, _ := c.Value.([]interface{})
			if len(values) == 0 {
				sb.WriteString(" AND 1 = 0")
				continue
			}
			phs := make([]string, 0, len(values))
			for _, v := range values {
				ph, err := bindCondition(d, &args, c.Field, v)
				if err != nil {
					return "", nil, err
				}
				phs = append(phs, ph)
			}
			sb.WriteString(" AND " + expr + " IN (" + strings.Join(phs, ", ") + ")")
		}
	}

	dir := " ASC"
	if q.Descending {
		dir = " DESC"
	}
	switch q.OrderBy {
	case "":
		sb.WriteString(" ORDER BY created_at" + dir + ", seq" + dir)
	default:
		sb.WriteString(" ORDER BY " + conditionExpr(d, q.OrderBy) + dir + ", seq" + dir)
	}

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}
