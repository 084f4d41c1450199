package versioning

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// DataAccess executes statements against the tables of a store. All calls
// are expected to run in a transaction controlled by the caller.
type DataAccess interface {
	// Select returns the rows matching all conditions.
	Select(ctx context.Context, q SelectQuery) ([]Row, error)
	// Insert inserts a row and returns the values of the returning
	// columns.
	Insert(
		ctx context.Context, table string, values Row,
		returning []string,
	) (Row, error)
	// Update sets values on the rows matching the key and returns the
	// number of affected rows.
	Update(
		ctx context.Context, table string, key []Condition, values Row,
	) (int64, error)
}

// Condition is an equality condition on a column.
type Condition struct {
	Column string
	Value  any
}

type Order struct {
	Column string
	Desc   bool
}

type SelectQuery struct {
	Table   string
	Columns []string
	Where   []Condition
	OrderBy []Order
	Limit   int
}

func identityConditions(cfg Config, ident Identity) ([]Condition, error) {
	conds := make([]Condition, 0, len(cfg.identity))

	for _, name := range cfg.identity {
		v, ok := ident[name]
		if !ok {
			return nil, Errorf(ErrCodeIdentity,
				"can't determine item identity, missing %q", name)
		}

		conds = append(conds, Condition{
			Column: name,
			Value:  unwrapTuple(v),
		})
	}

	return conds, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer: %w", err)
		}

		return i, nil
	case fmt.Stringer:
		return toInt64(n.String())
	}

	return 0, fmt.Errorf("cannot use %T as an integer", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	}

	return false, fmt.Errorf("cannot use %T as a boolean", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTime(t)
	}

	return time.Time{}, fmt.Errorf("cannot use %T as a timestamp", v)
}

func toActor(v any) *string {
	switch a := v.(type) {
	case nil:
		return nil
	case string:
		return &a
	case *string:
		return a
	}

	s := fmt.Sprint(v)

	return &s
}
