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
	"time"

	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/schema"
)

// DateWindow is the coarse calendar interval [From, To) sent upstream. The
// upstream treats the end date as exclusive.
type DateWindow struct {
	From schema.Date
	To   schema.Date
}

func (w DateWindow) String() string {
	return w.From.String() + "/" + w.To.String()
}

// Last is the last date included in the window.
func (w DateWindow) Last() schema.Date { return w.To.AddDays(-1) }

// Years lists the calendar years touched by the window.
func (w DateWindow) Years() []int {
	var res []int
	for y := int(w.From.Year()); y <= int(w.Last().Year()); y++ {
		res = append(res, y)
	}
	return res
}

// bounds accumulates the tightest date interval implied by timestamp
// predicates. Both ends are dates; upper is exclusive.
type bounds struct {
	lower *schema.Date
	upper *schema.Date
}

func (b *bounds) addLower(t time.Time) {
	d := schema.NewDateFromTime(t)
	if b.lower == nil || d.After(*b.lower) {
		b.lower = &d
	}
}

// addUpper records an upper bound. An exclusive bound at exact midnight ends
// the window on that date; any other bound needs that whole day.
func (b *bounds) addUpper(t time.Time, inclusive bool) {
	d := schema.NewDateFromTime(t)
	if inclusive || !t.Equal(d.ToTime()) {
		d = d.AddDays(1)
	}
	if b.upper == nil || d.Before(*b.upper) {
		b.upper = &d
	}
}

// add the bounds implied by a timestamp predicate; != implies none.
func (b *bounds) add(p Predicate) {
	at := func(v schema.Value) (time.Time, bool) {
		if v.IsNull() || v.Type() != schema.TypeTime {
			return time.Time{}, false
		}
		return v.Time(), true
	}
	switch p.Op {
	case OpGt, OpGe:
		if t, ok := at(p.Value); ok {
			b.addLower(t)
		}
	case OpLt, OpLe:
		if t, ok := at(p.Value); ok {
			b.addUpper(t, p.Op == OpLe)
		}
	case OpEq:
		if t, ok := at(p.Value); ok {
			b.addLower(t)
			b.addUpper(t, true)
		}
	case OpInRange:
		if t, ok := at(p.Value); ok {
			b.addLower(t)
		}
		if t, ok := at(p.Upper); ok {
			b.addUpper(t, true)
		}
	case OpIn:
		var lo, hi *time.Time
		for _, v := range p.Values {
			t, ok := at(v)
			if !ok {
				continue
			}
			if lo == nil || t.Before(*lo) {
				lo = &t
			}
			if hi == nil || t.After(*hi) {
				hi = &t
			}
		}
		if lo != nil {
			b.addLower(*lo)
			b.addUpper(*hi, true)
		}
	}
}

// window resolves the bounds into a DateWindow. A missing side extends the
// other one by days; with no bounds at all, the window is the last days
// ending with today. A degenerate window (From == To) is widened by one day.
func (b *bounds) window(days int, today schema.Date) (DateWindow, error) {
	var w DateWindow
	switch {
	case b.lower != nil && b.upper != nil:
		w = DateWindow{From: *b.lower, To: *b.upper}
	case b.lower != nil:
		w = DateWindow{From: *b.lower, To: b.lower.AddDays(days)}
	case b.upper != nil:
		w = DateWindow{From: b.upper.AddDays(-days), To: *b.upper}
	default:
		to := today.AddDays(1)
		w = DateWindow{From: to.AddDays(-days), To: to}
	}
	if w.To.Before(w.From) {
		return DateWindow{}, errkind.New(errkind.UnroutableQuery,
			"empty date window: %s is after %s", w.From, w.To)
	}
	if w.From == w.To {
		w.To = w.To.AddDays(1)
	}
	return w, nil
}
