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

// Package table prints scan results as CSV or as aligned text.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/netztransparenz/schema"
)

// Row interface that a table row representation must implement. An empty
// cell is a NULL value.
type Row interface {
	CSV() []string
}

// Align of a column in text output.
type Align int

const (
	Right Align = iota
	Left
)

// Table container. When present, the header and alignments are expected to
// have the same number of elements as each row.
type Table struct {
	Header []string
	Align  []Align // default: all Right
	Rows   []Row
}

// NewTable creates a Table with optional column headers.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// FromSchema creates an empty Table for the rows of the table declaration.
// Text columns are left-aligned, numbers and timestamps right-aligned.
func FromSchema(t *schema.Table) *Table {
	res := NewTable(t.Names()...)
	res.Align = make([]Align, len(t.Columns))
	for i, c := range t.Columns {
		if c.Type == schema.TypeString {
			res.Align[i] = Left
		}
	}
	return res
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Collect rows from a cursor until it is exhausted or limit rows are added;
// limit 0 is unlimited. It returns the number of rows added.
func Collect[R Row](t *Table, next func() (R, bool, error), limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		r, ok, err := next()
		if err != nil {
			return n, errors.Annotate(err, "failed to read row %d", n)
		}
		if !ok {
			break
		}
		t.AddRow(r)
		n++
	}
	return n, nil
}

// Params for printing Table data.
type Params struct {
	Rows        int    // max. number of rows to write; 0 = unlimited
	NoHeader    bool   // suppress the header
	MaxColWidth int    // for WriteText only; 0 = unlimited, otherwise >= 4
	Null        string // for WriteText only: the text of an empty cell
}

func (t *Table) rows(p Params) []Row {
	if p.Rows > 0 && p.Rows < len(t.Rows) {
		return t.Rows[:p.Rows]
	}
	return t.Rows
}

// WriteCSV writes the table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(t.Header) > 0 {
		if err := cw.Write(t.Header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for _, r := range t.rows(p) {
		if err := cw.Write(r.CSV()); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width-2]) + ".."
}

// WriteText writes the table as text aligned in columns.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	var lines [][]string
	if !p.NoHeader && len(t.Header) > 0 {
		lines = append(lines, t.Header)
	}
	for _, r := range t.rows(p) {
		cells := r.CSV()
		if p.Null != "" {
			cells = append([]string(nil), cells...)
			for i, c := range cells {
				if c == "" {
					cells[i] = p.Null
				}
			}
		}
		lines = append(lines, cells)
	}
	if len(lines) == 0 {
		return nil
	}

	widths := make([]int, len(lines[0]))
	for i, l := range lines {
		if len(l) == 0 {
			return errors.Reason("line %d is empty", i)
		}
		if len(l) != len(widths) {
			return errors.Reason("line %d has %d cells, expected %d", i, len(l), len(widths))
		}
		for j, c := range l {
			n := utf8.RuneCountInString(c)
			if p.MaxColWidth > 0 && n > p.MaxColWidth {
				n = p.MaxColWidth
			}
			if n > widths[j] {
				widths[j] = n
			}
		}
	}

	write := func(l []string) error {
		out := make([]string, len(l))
		for i, c := range l {
			c = truncate(c, widths[i])
			if i < len(t.Align) && t.Align[i] == Left {
				out[i] = fmt.Sprintf("%-*s", widths[i], c)
			} else {
				out[i] = fmt.Sprintf("%*s", widths[i], c)
			}
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.TrimRight(strings.Join(out, " | "), " "))
		return err
	}

	for i, l := range lines {
		if err := write(l); err != nil {
			return errors.Annotate(err, "failed to write line %d", i)
		}
		if i == 0 && !p.NoHeader && len(t.Header) > 0 {
			dashes := make([]string, len(widths))
			for j, n := range widths {
				dashes[j] = strings.Repeat("-", n)
			}
			if err := write(dashes); err != nil {
				return errors.Annotate(err, "failed to write header separator")
			}
		}
	}
	return nil
}
