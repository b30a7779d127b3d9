package filter

import (
	"fmt"
	"strings"

	"github.com/meridianhq/meridian/internal/event"
)

// Match evaluates a compiled expression against an event record.
// A field path that does not resolve makes its comparison false rather than
// erroring, so a filter on a sparse property simply does not match records
// lacking it.
func Match(expr Expr, rec *event.Record) (bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		return matchBinary(e, rec)
	case *NotExpr:
		v, err := Match(e.Expr, rec)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *ComparisonExpr:
		return matchComparison(e, rec)
	default:
		return false, fmt.Errorf("unknown expr type %T", expr)
	}
}

// MustParse compiles an expression or panics. For tests and static tables.
func MustParse(expr string) Expr {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func matchBinary(e *BinaryExpr, rec *event.Record) (bool, error) {
	left, err := Match(e.Left, rec)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case "AND":
		if !left {
			return false, nil
		}
		return Match(e.Right, rec)
	case "OR":
		if left {
			return true, nil
		}
		return Match(e.Right, rec)
	default:
		return false, fmt.Errorf("unknown binary op %q", e.Op)
	}
}

func matchComparison(e *ComparisonExpr, rec *event.Record) (bool, error) {
	left, lok := resolveOperand(e.Left, rec)
	right, rok := resolveOperand(e.Right, rec)
	if !lok || !rok {
		return false, nil
	}
	return compare(e.Op, left, right)
}

func resolveOperand(op Operand, rec *event.Record) (any, bool) {
	switch o := op.(type) {
	case *LiteralOperand:
		return o.Value, true
	case *FieldOperand:
		return resolveField(o.Path, rec)
	default:
		return nil, false
	}
}

// resolveField walks a field path into the record. Supported roots:
// "event" (name), "user_id", and "properties.<key>".
func resolveField(path []string, rec *event.Record) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch strings.ToLower(path[0]) {
	case "event":
		return rec.Name, len(path) == 1
	case "user_id":
		return rec.UserID, len(path) == 1
	case "properties":
		if len(path) < 2 || rec.Properties == nil {
			return nil, false
		}
		v, ok := rec.Properties[path[1]]
		if !ok || len(path) > 2 {
			return nil, false
		}
		return v, true
	}
	return nil, false
}
