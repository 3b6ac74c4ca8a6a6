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
)

// Row is a normalized row conforming to its table's declared columns.
type Row struct {
	Table  *Table
	Values []Value
}

// NewRow creates a row of typed NULLs.
func NewRow(t *Table) Row {
	vals := make([]Value, len(t.Columns))
	for i, c := range t.Columns {
		vals[i] = Null(c.Type)
	}
	return Row{Table: t, Values: vals}
}

// Get the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	i, ok := r.Table.Index(name)
	if !ok {
		return Value{}, false
	}
	return r.Values[i], true
}

// Set the value of the named column. Setting an undeclared column or a value
// of the wrong type is a programming error and panics.
func (r Row) Set(name string, v Value) {
	i, ok := r.Table.Index(name)
	if !ok {
		panic(fmt.Sprintf("table %s has no column %s", r.Table.Name, name))
	}
	if want := r.Table.Columns[i].Type; v.Type() != want {
		panic(fmt.Sprintf("column %s.%s is %s, got %s", r.Table.Name, name, want, v.Type()))
	}
	r.Values[i] = v
}

// Copy creates a deep copy of the row, sharing the table declaration.
func (r Row) Copy() Row {
	vals := make([]Value, len(r.Values))
	copy(vals, r.Values)
	return Row{Table: r.Table, Values: vals}
}

// Project the row onto a table view created by Table.Project.
func (r Row) Project(t *Table) Row {
	if t == r.Table {
		return r
	}
	res := NewRow(t)
	for i, c := range t.Columns {
		if v, ok := r.Get(c.Name); ok {
			res.Values[i] = v
		}
	}
	return res
}

// CSV implements table.Row. NULL is an empty cell.
func (r Row) CSV() []string {
	res := make([]string, len(r.Values))
	for i, v := range r.Values {
		if !v.IsNull() {
			res[i] = v.String()
		}
	}
	return res
}
