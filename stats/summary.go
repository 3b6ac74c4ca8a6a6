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

// Package stats summarizes numeric columns of scan results.
package stats

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/stockparfait/netztransparenz/schema"
)

// Summary of a numeric column. Statistics of a column without values are NaN.
type Summary struct {
	Column string
	Count  int // non-NULL values
	Nulls  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64 // sample standard deviation; NaN for fewer than 2 values
	Median float64
}

// Header of the Summary table, matching CSV.
func Header() []string {
	return []string{"column", "count", "nulls", "min", "max", "mean", "stddev", "median"}
}

func format(x float64) string {
	if math.IsNaN(x) {
		return ""
	}
	return strconv.FormatFloat(x, 'g', 6, 64)
}

// CSV implements table.Row.
func (s Summary) CSV() []string {
	return []string{
		s.Column,
		strconv.Itoa(s.Count),
		strconv.Itoa(s.Nulls),
		format(s.Min),
		format(s.Max),
		format(s.Mean),
		format(s.StdDev),
		format(s.Median),
	}
}

// NewSummary computes the summary of the values, which are sorted in place.
func NewSummary(column string, values []float64, nulls int) Summary {
	s := Summary{Column: column, Count: len(values), Nulls: nulls}
	if len(values) == 0 {
		s.Min, s.Max, s.Mean, s.StdDev, s.Median = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}
	sort.Float64s(values)
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		s.StdDev = math.NaN()
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return s
}

// Summarize every numeric column of the rows, in the view's column order.
// The rows must be of the view, as returned by a scan.
func Summarize(view *schema.Table, rows []schema.Row) []Summary {
	var res []Summary
	for i, c := range view.Columns {
		if c.Type != schema.TypeFloat && c.Type != schema.TypeInt {
			continue
		}
		var values []float64
		nulls := 0
		for _, r := range rows {
			v := r.Values[i]
			if v.IsNull() {
				nulls++
				continue
			}
			values = append(values, v.Float())
		}
		res = append(res, NewSummary(c.Name, values, nulls))
	}
	return res
}
