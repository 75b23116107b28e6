package persist

import (
	"regexp"

	"github.com/pkg/errors"
)

// Op is a comparison operator
type Op string

// Supported operators
const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpIn      Op = "IN"
	OpIsNull  Op = "IS NULL"
	OpNotNull Op = "IS NOT NULL"
)

// Cond is a single condition on a field. Conditions in a slice are ANDed.
type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

// Order sorts by a field
type Order struct {
	Field string
	Desc  bool
}

// Query selects rows
type Query struct {
	Where []Cond
	Order []Order
	Limit int // 0 = no limit
}

// Eq .
func Eq(field string, value interface{}) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Ne .
func Ne(field string, value interface{}) Cond { return Cond{Field: field, Op: OpNe, Value: value} }

// Lt .
func Lt(field string, value interface{}) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// Lte .
func Lte(field string, value interface{}) Cond { return Cond{Field: field, Op: OpLte, Value: value} }

// Gt .
func Gt(field string, value interface{}) Cond { return Cond{Field: field, Op: OpGt, Value: value} }

// Gte .
func Gte(field string, value interface{}) Cond { return Cond{Field: field, Op: OpGte, Value: value} }

// In matches any of values, which must be a slice
func In(field string, values interface{}) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// IsNull .
func IsNull(field string) Cond { return Cond{Field: field, Op: OpIsNull} }

// NotNull .
func NotNull(field string) Cond { return Cond{Field: field, Op: OpNotNull} }

// Asc .
func Asc(field string) Order { return Order{Field: field} }

// Desc .
func Desc(field string) Order { return Order{Field: field, Desc: true} }

var fieldName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks the field name and operator so adapters can build
// statements from them safely
func (c Cond) Validate() error {
	if !fieldName.MatchString(c.Field) {
		return errors.Errorf("invalid field name %q", c.Field)
	}
	switch c.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpIsNull, OpNotNull:
		return nil
	}
	return errors.Errorf("invalid operator %q", c.Op)
}

// Validate .
func (o Order) Validate() error {
	if !fieldName.MatchString(o.Field) {
		return errors.Errorf("invalid order field %q", o.Field)
	}
	return nil
}
