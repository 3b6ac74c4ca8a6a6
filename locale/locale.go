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

// Package locale converts the source-locale encodings of the upstream API
// (comma decimals, German dates, "N.A." style sentinels) into typed values.
//
// Every function receives the field name and the 1-based record position, so
// that a failure can be reported as a FieldError naming the exact offending
// value. A value that does not parse is never coerced to a default.
package locale

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/schema"
)

// FieldError reports a value that failed to parse under its declared rule.
type FieldError struct {
	Field    string
	Raw      string
	Position int // 1-based record position in the response
	Reason   string
}

var _ errkind.Kinded = &FieldError{}

func (e *FieldError) Error() string {
	return fmt.Sprintf("record %d, field '%s': %s (raw value %q)",
		e.Position, e.Field, e.Reason, e.Raw)
}

func (e *FieldError) Kind() errkind.Kind { return errkind.FieldParse }

// NewFieldError creates a FieldError with a formatted reason.
func NewFieldError(field, raw string, pos int, format string, args ...any) error {
	return &FieldError{
		Field:    field,
		Raw:      raw,
		Position: pos,
		Reason:   fmt.Sprintf(format, args...),
	}
}

// sentinels denote an absent value. "N.A." is "not available", "N.E." is
// "nicht erfasst" (not recorded).
var sentinels = map[string]struct{}{
	"":     {},
	"N.A.": {},
	"N.A":  {},
	"NA":   {},
	"N.E.": {},
	"N.E":  {},
	"NE":   {},
}

// IsNull checks if the raw value is one of the "value absent" tokens,
// ignoring case and surrounding whitespace.
func IsNull(raw string) bool {
	_, ok := sentinels[strings.ToUpper(strings.TrimSpace(raw))]
	return ok
}

var (
	commaDecimal = regexp.MustCompile(`^[+-]?(\d{1,3}(\.\d{3})+|\d+),\d+$`)
	pointDecimal = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

// parseDecimal converts a comma-decimal number. A '.' is a thousands separator
// only when a ',' is also present ("1.234,5"); otherwise it is accepted as a
// decimal point. Exponents, hex floats and any '.' after the ',' are errors.
func parseDecimal(s string) (float64, error) {
	switch {
	case commaDecimal.MatchString(s):
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	case strings.Contains(s, ","):
		return 0, fmt.Errorf("malformed comma-decimal number")
	case !pointDecimal.MatchString(s):
		return 0, fmt.Errorf("not a decimal number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a decimal number")
	}
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

// Decimal parses a nullable comma-decimal number.
func Decimal(field, raw string, pos int) (schema.Value, error) {
	if IsNull(raw) {
		return schema.Null(schema.TypeFloat), nil
	}
	f, err := parseDecimal(strings.TrimSpace(raw))
	if err != nil {
		return schema.Value{}, NewFieldError(field, raw, pos, "%s", err.Error())
	}
	return schema.NewFloat(f), nil
}

// NonNegative parses a nullable comma-decimal number which must not be
// negative, such as a generation volume in MW.
func NonNegative(field, raw string, pos int) (schema.Value, error) {
	v, err := Decimal(field, raw, pos)
	if err != nil {
		return v, err
	}
	if !v.IsNull() && v.Float() < 0 {
		return schema.Value{}, NewFieldError(field, raw, pos, "negative value not allowed")
	}
	return v, nil
}

// Int16 parses a nullable integer that must fit into int16.
func Int16(field, raw string, pos int) (schema.Value, error) {
	if IsNull(raw) {
		return schema.Null(schema.TypeInt), nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return schema.Value{}, NewFieldError(field, raw, pos, "not an integer")
	}
	return CheckInt16(field, n, pos)
}

// CheckInt16 range-checks an integer destined for an int16 column.
func CheckInt16(field string, n int64, pos int) (schema.Value, error) {
	if n < math.MinInt16 || n > math.MaxInt16 {
		return schema.Value{}, NewFieldError(field, strconv.FormatInt(n, 10), pos,
			"out of range for int16 [%d..%d]", math.MinInt16, math.MaxInt16)
	}
	return schema.NewInt(n), nil
}

// Flag parses a nullable "1"/"0" flag.
func Flag(field, raw string, pos int) (schema.Value, error) {
	if IsNull(raw) {
		return schema.Null(schema.TypeBool), nil
	}
	switch strings.TrimSpace(raw) {
	case "1":
		return schema.NewBool(true), nil
	case "0":
		return schema.NewBool(false), nil
	}
	return schema.Value{}, NewFieldError(field, raw, pos, "flag must be 0 or 1")
}

// Text returns the trimmed value, or NULL for a sentinel.
func Text(raw string) schema.Value {
	if IsNull(raw) {
		return schema.Null(schema.TypeString)
	}
	return schema.NewString(strings.TrimSpace(raw))
}

// DateOrder is the textual order of a calendar date. It is always declared by
// the caller for each field and never guessed from the value.
type DateOrder int

const (
	DMY DateOrder = iota // DD.MM.YYYY
	YMD                  // YYYY-MM-DD
)

func (o DateOrder) layout() string {
	if o == YMD {
		return "2006-1-2"
	}
	return "2.1.2006"
}

func (o DateOrder) String() string {
	if o == YMD {
		return "YYYY-MM-DD"
	}
	return "DD.MM.YYYY"
}

// Date parses a calendar date in the declared order.
func Date(field, raw string, order DateOrder, pos int) (schema.Date, error) {
	t, err := time.Parse(order.layout(), strings.TrimSpace(raw))
	if err != nil {
		return schema.Date{}, NewFieldError(field, raw, pos, "expected a date as %s", order)
	}
	return schema.NewDateFromTime(t), nil
}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// Minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses a HH:MM time of day.
func ParseClock(field, raw string, pos int) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return Clock{}, NewFieldError(field, raw, pos, "expected a time as HH:MM")
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// At combines a date and a time of day into a UTC instant.
func At(d schema.Date, c Clock) time.Time {
	return d.ToTime().Add(time.Duration(c.Minutes()) * time.Minute)
}

// Zone checks that a time zone column reads UTC; other zones are not
// supported by the normalized tables.
func Zone(field, raw string, pos int) error {
	if strings.TrimSpace(raw) != "UTC" {
		return NewFieldError(field, raw, pos, "only UTC is supported")
	}
	return nil
}

// MonthYear parses "M/YYYY" into the first day of that month.
func MonthYear(field, raw string, pos int) (schema.Date, error) {
	t, err := time.Parse("1/2006", strings.TrimSpace(raw))
	if err != nil {
		return schema.Date{}, NewFieldError(field, raw, pos, "expected a month as M/YYYY")
	}
	return schema.NewDateFromTime(t), nil
}

// Timestamp parses an RFC 3339 instant and converts it to UTC.
func Timestamp(field, raw string, pos int) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, NewFieldError(field, raw, pos, "expected an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}
