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

package schema

import (
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the text representation of timestamps in rows.
const TimeFormat = "2006-01-02T15:04:05Z"

// Type of a column value.
type Type uint8

const (
	TypeString Type = iota
	TypeFloat
	TypeInt
	TypeBool
	TypeTime
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "timestamp"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Value is a typed scalar which may be NULL. The zero value is a NULL string.
type Value struct {
	typ   Type
	valid bool
	s     string
	f     float64
	i     int64
	b     bool
	t     time.Time
}

func NewString(s string) Value  { return Value{typ: TypeString, valid: true, s: s} }
func NewFloat(f float64) Value  { return Value{typ: TypeFloat, valid: true, f: f} }
func NewInt(i int64) Value      { return Value{typ: TypeInt, valid: true, i: i} }
func NewBool(b bool) Value      { return Value{typ: TypeBool, valid: true, b: b} }
func NewTime(t time.Time) Value { return Value{typ: TypeTime, valid: true, t: t.UTC()} }

// Null creates a NULL value of the given type.
func Null(t Type) Value { return Value{typ: t} }

// NullableFloat is a Float when ok, otherwise NULL.
func NullableFloat(f float64, ok bool) Value {
	if !ok {
		return Null(TypeFloat)
	}
	return NewFloat(f)
}

func (v Value) Type() Type    { return v.typ }
func (v Value) IsNull() bool  { return !v.valid }
func (v Value) Str() string   { return v.s }
func (v Value) Float() float64 {
	if v.typ == TypeInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) Int() int64      { return v.i }
func (v Value) Bool() bool      { return v.b }
func (v Value) Time() time.Time { return v.t }

// String representation of the value; NULL prints as "NULL".
func (v Value) String() string {
	if !v.valid {
		return "NULL"
	}
	return v.text()
}

func (v Value) text() string {
	switch v.typ {
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeTime:
		return v.t.Format(TimeFormat)
	}
	return v.s
}

func numeric(t Type) bool { return t == TypeFloat || t == TypeInt }

// Compare orders two non-NULL values of compatible types. The second result is
// false when either value is NULL or the types cannot be compared; this is how
// SQL comparisons against NULL behave.
func (v Value) Compare(o Value) (int, bool) {
	if !v.valid || !o.valid {
		return 0, false
	}
	cmp := func(less, greater bool) int {
		switch {
		case less:
			return -1
		case greater:
			return 1
		}
		return 0
	}
	switch {
	case v.typ == TypeInt && o.typ == TypeInt:
		return cmp(v.i < o.i, v.i > o.i), true
	case numeric(v.typ) && numeric(o.typ):
		return cmp(v.Float() < o.Float(), v.Float() > o.Float()), true
	case v.typ != o.typ:
		return 0, false
	case v.typ == TypeString:
		return cmp(v.s < o.s, v.s > o.s), true
	case v.typ == TypeBool:
		return cmp(!v.b && o.b, v.b && !o.b), true
	case v.typ == TypeTime:
		return cmp(v.t.Before(o.t), v.t.After(o.t)), true
	}
	return 0, false
}

// Equal is a strict identity check: both NULL of the same type, or both
// non-NULL and comparing equal.
func (v Value) Equal(o Value) bool {
	if !v.valid || !o.valid {
		return !v.valid && !o.valid && v.typ == o.typ
	}
	c, ok := v.Compare(o)
	return ok && c == 0
}
