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
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/netztransparenz/errkind"
)

// TableName identifies one of the exposed tables.
type TableName string

const (
	Renewable  TableName = "renewable_energy_timeseries"
	Prices     TableName = "electricity_market_prices"
	Redispatch TableName = "redispatch_events"
	GridStatus TableName = "grid_status_timeseries"
)

// Column names shared by several tables.
const (
	ColTimestamp      = "timestamp_utc"
	ColIntervalEnd    = "interval_end_utc"
	ColIntervalMin    = "interval_minutes"
	ColSourceEndpoint = "source_endpoint"
)

// Columns of renewable_energy_timeseries.
const (
	ColProductType    = "product_type"
	ColDataCategory   = "data_category"
	Col50Hertz        = "tso_50hertz_mw"
	ColAmprion        = "tso_amprion_mw"
	ColTennet         = "tso_tennet_mw"
	ColTransnetBW     = "tso_transnetbw_mw"
	ColTotalGermany   = "total_germany_mw"
	ColHasMissingData = "has_missing_data"
)

// Columns of electricity_market_prices.
const (
	ColGranularity     = "granularity"
	ColPriceType       = "price_type"
	ColPriceEurMwh     = "price_eur_mwh"
	ColProductCategory = "product_category"
	ColNegativeHours   = "negative_logic_hours"
	ColNegativeFlag    = "negative_flag_value"
	ColPriceCtKwh      = "price_ct_kwh"
	ColIsNegative      = "is_negative"
)

// Columns of redispatch_events.
const (
	ColReason           = "reason"
	ColDirection        = "direction"
	ColAvgPower         = "avg_power_mw"
	ColMaxPower         = "max_power_mw"
	ColTotalEnergy      = "total_energy_mwh"
	ColRequestingTSO    = "requesting_tso"
	ColInstructingTSO   = "instructing_tso"
	ColAffectedFacility = "affected_facility"
	ColEnergyType       = "energy_type"
)

// Columns of grid_status_timeseries.
const (
	ColGridStatus = "grid_status"
)

// Column declaration.
type Column struct {
	Name    string
	Type    Type
	Derived bool // computed from other columns, never sourced upstream
}

// Table declaration: the ordered column list, the primary timestamp column and
// the discriminator columns selecting upstream endpoints.
type Table struct {
	Name           TableName
	Columns        []Column
	Timestamp      string
	Discriminators []string
	index          map[string]int
}

func newTable(name TableName, discriminators []string, cols ...Column) *Table {
	t := &Table{
		Name:           name,
		Columns:        cols,
		Timestamp:      ColTimestamp,
		Discriminators: discriminators,
		index:          make(map[string]int),
	}
	for i, c := range cols {
		t.index[c.Name] = i
	}
	return t
}

func col(name string, tp Type) Column     { return Column{Name: name, Type: tp} }
func derived(name string, tp Type) Column { return Column{Name: name, Type: tp, Derived: true} }

var tables = map[TableName]*Table{
	Renewable: newTable(Renewable, []string{ColProductType, ColDataCategory},
		col(ColTimestamp, TypeTime),
		col(ColIntervalEnd, TypeTime),
		col(ColIntervalMin, TypeInt),
		col(ColProductType, TypeString),
		col(ColDataCategory, TypeString),
		col(Col50Hertz, TypeFloat),
		col(ColAmprion, TypeFloat),
		col(ColTennet, TypeFloat),
		col(ColTransnetBW, TypeFloat),
		col(ColSourceEndpoint, TypeString),
		derived(ColTotalGermany, TypeFloat),
		derived(ColHasMissingData, TypeBool),
	),
	Prices: newTable(Prices, []string{ColPriceType},
		col(ColTimestamp, TypeTime),
		col(ColIntervalEnd, TypeTime),
		col(ColGranularity, TypeString),
		col(ColPriceType, TypeString),
		col(ColPriceEurMwh, TypeFloat),
		col(ColProductCategory, TypeString),
		col(ColNegativeHours, TypeString),
		col(ColNegativeFlag, TypeBool),
		col(ColSourceEndpoint, TypeString),
		derived(ColPriceCtKwh, TypeFloat),
		derived(ColIsNegative, TypeBool),
	),
	Redispatch: newTable(Redispatch, nil,
		col(ColTimestamp, TypeTime),
		col(ColIntervalEnd, TypeTime),
		col(ColReason, TypeString),
		col(ColDirection, TypeString),
		col(ColAvgPower, TypeFloat),
		col(ColMaxPower, TypeFloat),
		col(ColTotalEnergy, TypeFloat),
		col(ColRequestingTSO, TypeString),
		col(ColInstructingTSO, TypeString),
		col(ColAffectedFacility, TypeString),
		col(ColEnergyType, TypeString),
		col(ColSourceEndpoint, TypeString),
	),
	GridStatus: newTable(GridStatus, nil,
		col(ColTimestamp, TypeTime),
		col(ColIntervalEnd, TypeTime),
		col(ColIntervalMin, TypeInt),
		col(ColGridStatus, TypeString),
		col(ColSourceEndpoint, TypeString),
	),
}

// Lookup a table declaration by name. An unknown table cannot be planned.
func Lookup(name TableName) (*Table, error) {
	t, ok := tables[name]
	if !ok {
		return nil, errkind.New(errkind.UnroutableQuery,
			"unknown table '%s'; expected one of: %s", name, strings.Join(TableNames(), ", "))
	}
	return t, nil
}

// TableNames lists all the declared tables in a stable order.
func TableNames() []string {
	return []string{string(Renewable), string(Prices), string(Redispatch), string(GridStatus)}
}

// Index of the column by name.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Column declaration by name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// IsDiscriminator checks if the column selects upstream endpoints.
func (t *Table) IsDiscriminator(name string) bool {
	for _, d := range t.Discriminators {
		if d == name {
			return true
		}
	}
	return false
}

// Names of all columns in order.
func (t *Table) Names() []string {
	res := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		res[i] = c.Name
	}
	return res
}

// Project creates a table view with only the named columns, in the given
// order. An empty list keeps all columns.
func (t *Table) Project(names []string) (*Table, error) {
	if len(names) == 0 {
		return t, nil
	}
	cols := make([]Column, len(names))
	for i, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, errors.Reason("table %s has no column '%s'", t.Name, n)
		}
		cols[i] = c
	}
	return newTable(t.Name, t.Discriminators, cols...), nil
}

// String prints a compact representation of the table declaration.
func (t *Table) String() string {
	fields := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = fmt.Sprintf("%s: %s", c.Name, c.Type)
	}
	return string(t.Name) + "{" + strings.Join(fields, ", ") + "}"
}
