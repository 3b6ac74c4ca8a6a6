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
	"time"

	"github.com/stockparfait/errors"
)

// Date records a calendar date as year, month and day. The struct is designed
// to fit into 4 bytes.
type Date struct {
	YearVal  uint16
	MonthVal uint8
	DayVal   uint8
}

// NewDate is the constructor for Date.
func NewDate(year uint16, month, day uint8) Date {
	return Date{year, month, day}
}

// NewDateFromTime creates a Date instance from a time.Time value in UTC.
func NewDateFromTime(t time.Time) Date {
	t = t.UTC()
	return Date{
		YearVal:  uint16(t.Year()),
		MonthVal: uint8(t.Month()),
		DayVal:   uint8(t.Day()),
	}
}

// NewDateFromString parses a date in the YYYY-MM-DD format.
func NewDateFromString(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, errors.Annotate(err, "failed to parse a Date string: '%s'", s)
	}
	return NewDateFromTime(t), nil
}

func (d Date) Year() uint16 { return d.YearVal }
func (d Date) Month() uint8 { return d.MonthVal }
func (d Date) Day() uint8   { return d.DayVal }

// String representation of the value.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), d.Month(), d.Day())
}

// IsZero checks if the value is zero.
func (d Date) IsZero() bool {
	return d.YearVal == 0 && d.MonthVal == 0 && d.DayVal == 0
}

// ToTime converts Date to midnight UTC of that day.
func (d Date) ToTime() time.Time {
	return time.Date(int(d.YearVal), time.Month(d.MonthVal), int(d.DayVal), 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n calendar days away; n may be negative.
func (d Date) AddDays(n int) Date {
	return NewDateFromTime(d.ToTime().AddDate(0, 0, n))
}

// Before checks if d < d2.
func (d Date) Before(d2 Date) bool {
	return d.Compare(d2) < 0
}

// After checks if d > d2.
func (d Date) After(d2 Date) bool {
	return d.Compare(d2) > 0
}

// Compare returns -1, 0 or 1 for d < d2, d == d2 and d > d2 respectively.
func (d Date) Compare(d2 Date) int {
	x := []int{int(d.YearVal), int(d.MonthVal), int(d.DayVal)}
	y := []int{int(d2.YearVal), int(d2.MonthVal), int(d2.DayVal)}
	for i := range x {
		if x[i] < y[i] {
			return -1
		}
		if x[i] > y[i] {
			return 1
		}
	}
	return 0
}

// MonthStart is the first day of d's month.
func (d Date) MonthStart() Date {
	return NewDate(d.YearVal, d.MonthVal, 1)
}

// MonthEnd is the last day of d's month.
func (d Date) MonthEnd() Date {
	return NewDate(d.YearVal, d.MonthVal, DaysInMonth(d.YearVal, d.MonthVal))
}

// IsLeapYear checks if the year is a leap year in the Gregorian calendar.
func IsLeapYear(year uint16) bool {
	if year%400 == 0 {
		return true
	}
	if year%100 == 0 {
		return false
	}
	return year%4 == 0
}

// DaysInMonth returns the number of days in the month of the year.
func DaysInMonth(year uint16, month uint8) uint8 {
	switch month {
	case 2:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	}
	return 31
}
