// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/netztransparenz/schema"
)

// Op is a predicate operator.
type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpInRange Op = "in-range" // closed interval [Value, Upper]
	OpIn      Op = "in"       // one of Values
)

// Predicate is a single column filter as supplied by the host.
type Predicate struct {
	Column string
	Op     Op
	Value  schema.Value
	Upper  schema.Value   // only for OpInRange
	Values []schema.Value // only for OpIn
}

func Eq(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpEq, Value: v} }
func Ne(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpNe, Value: v} }
func Lt(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpLt, Value: v} }
func Le(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpLe, Value: v} }
func Gt(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpGt, Value: v} }
func Ge(col string, v schema.Value) Predicate { return Predicate{Column: col, Op: OpGe, Value: v} }

// InRange creates a closed interval predicate lo <= col <= hi.
func InRange(col string, lo, hi schema.Value) Predicate {
	return Predicate{Column: col, Op: OpInRange, Value: lo, Upper: hi}
}

// In creates a set membership predicate.
func In(col string, vs ...schema.Value) Predicate {
	return Predicate{Column: col, Op: OpIn, Values: vs}
}

func valueKey(v schema.Value) string {
	return v.Type().String() + ":" + v.String()
}

// String is a canonical representation of the predicate, also used for
// fingerprinting predicate sets.
func (p Predicate) String() string {
	switch p.Op {
	case OpInRange:
		return fmt.Sprintf("%s in-range [%s, %s]", p.Column, valueKey(p.Value), valueKey(p.Upper))
	case OpIn:
		vs := make([]string, len(p.Values))
		for i, v := range p.Values {
			vs[i] = valueKey(v)
		}
		return fmt.Sprintf("%s in {%s}", p.Column, strings.Join(vs, ", "))
	}
	return fmt.Sprintf("%s %s %s", p.Column, p.Op, valueKey(p.Value))
}

// Match checks the predicate against a row using the exact operator
// semantics. A comparison involving NULL never matches.
func (p Predicate) Match(row schema.Row) bool {
	v, ok := row.Get(p.Column)
	if !ok {
		return false
	}
	return p.MatchValue(v)
}

// MatchValue checks the predicate against a single value.
func (p Predicate) MatchValue(v schema.Value) bool {
	cmp := func(o schema.Value, f func(int) bool) bool {
		c, ok := v.Compare(o)
		return ok && f(c)
	}
	switch p.Op {
	case OpEq:
		return cmp(p.Value, func(c int) bool { return c == 0 })
	case OpNe:
		return cmp(p.Value, func(c int) bool { return c != 0 })
	case OpLt:
		return cmp(p.Value, func(c int) bool { return c < 0 })
	case OpLe:
		return cmp(p.Value, func(c int) bool { return c <= 0 })
	case OpGt:
		return cmp(p.Value, func(c int) bool { return c > 0 })
	case OpGe:
		return cmp(p.Value, func(c int) bool { return c >= 0 })
	case OpInRange:
		return cmp(p.Value, func(c int) bool { return c >= 0 }) &&
			cmp(p.Upper, func(c int) bool { return c <= 0 })
	case OpIn:
		for _, x := range p.Values {
			if cmp(x, func(c int) bool { return c == 0 }) {
				return true
			}
		}
	}
	return false
}

// MatchAll checks that the row satisfies every predicate.
func MatchAll(preds []Predicate, row schema.Row) bool {
	for _, p := range preds {
		if !p.Match(row) {
			return false
		}
	}
	return true
}

// instantLayouts are accepted for timestamp values given as text.
var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseInstant(s string) (time.Time, error) {
	for _, l := range instantLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Reason("cannot parse timestamp '%s'", s)
}

// ParseValue converts text into a value of the given column type.
func ParseValue(tp schema.Type, s string) (schema.Value, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return schema.Null(tp), nil
	}
	switch tp {
	case schema.TypeTime:
		t, err := parseInstant(s)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.NewTime(t), nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return schema.Value{}, errors.Annotate(err, "not a number: '%s'", s)
		}
		return schema.NewFloat(f), nil
	case schema.TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return schema.Value{}, errors.Annotate(err, "not an integer: '%s'", s)
		}
		return schema.NewInt(n), nil
	case schema.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return schema.Value{}, errors.Annotate(err, "not a boolean: '%s'", s)
		}
		return schema.NewBool(b), nil
	}
	return schema.NewString(s), nil
}

// parseOps are tried in order, longest first.
var parseOps = []Op{OpGe, OpLe, OpNe, OpEq, OpLt, OpGt}

// ParsePredicate parses a textual filter for the table. Accepted forms:
//
//	column<op>value     with op one of = != < <= > >=
//	column=v1|v2|v3     set membership
//	column:lo..hi       closed interval
func ParsePredicate(t *schema.Table, s string) (Predicate, error) {
	typed := func(col string) (schema.Column, error) {
		c, ok := t.Column(strings.TrimSpace(col))
		if !ok {
			return c, errors.Reason("table %s has no column '%s'", t.Name, col)
		}
		return c, nil
	}
	if i := strings.Index(s, ":"); i > 0 && strings.Contains(s[i:], "..") &&
		!strings.ContainsAny(s[:i], "=<>!") {
		c, err := typed(s[:i])
		if err != nil {
			return Predicate{}, err
		}
		bounds := strings.SplitN(s[i+1:], "..", 2)
		lo, err := ParseValue(c.Type, bounds[0])
		if err != nil {
			return Predicate{}, errors.Annotate(err, "bad lower bound in '%s'", s)
		}
		hi, err := ParseValue(c.Type, bounds[1])
		if err != nil {
			return Predicate{}, errors.Annotate(err, "bad upper bound in '%s'", s)
		}
		return InRange(c.Name, lo, hi), nil
	}
	for _, op := range parseOps {
		i := strings.Index(s, string(op))
		if i <= 0 {
			continue
		}
		c, err := typed(s[:i])
		if err != nil {
			return Predicate{}, err
		}
		raw := s[i+len(op):]
		if op == OpEq && strings.Contains(raw, "|") {
			var vs []schema.Value
			for _, r := range strings.Split(raw, "|") {
				v, err := ParseValue(c.Type, r)
				if err != nil {
					return Predicate{}, errors.Annotate(err, "bad value in '%s'", s)
				}
				vs = append(vs, v)
			}
			return In(c.Name, vs...), nil
		}
		v, err := ParseValue(c.Type, raw)
		if err != nil {
			return Predicate{}, errors.Annotate(err, "bad value in '%s'", s)
		}
		return Predicate{Column: c.Name, Op: op, Value: v}, nil
	}
	return Predicate{}, errors.Reason("cannot parse filter '%s'", s)
}
