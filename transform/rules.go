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

package transform

import (
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/netztransparenz/locale"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/schema"
)

// Source header names.
const (
	hDate     = "Datum"
	hFrom     = "von"
	hTo       = "bis"
	hZoneFrom = "Zeitzone von"
	hZoneTo   = "Zeitzone bis"

	h50Hertz    = "50Hertz (MW)"
	hAmprion    = "Amprion (MW)"
	hTennet     = "TenneT TSO (MW)"
	hTransnetBW = "TransnetBW (MW)"

	hSpotPrice = "Spotmarktpreis in ct/kWh"
	hMonth     = "Monat"

	hBeginDate   = "BEGINN_DATUM"
	hBeginTime   = "BEGINN_UHRZEIT"
	hBeginZone   = "ZEITZONE_VON"
	hEndDate     = "ENDE_DATUM"
	hEndTime     = "ENDE_UHRZEIT"
	hEndZone     = "ZEITZONE_BIS"
	hReason      = "GRUND_DER_MASSNAHME"
	hDirection   = "RICHTUNG"
	hAvgPower    = "MITTLERE_LEISTUNG_MW"
	hMaxPower    = "MAXIMALE_LEISTUNG_MW"
	hTotalEnergy = "GESAMTE_ARBEIT_MWH"
	hInstructing = "ANWEISENDER_UENB"
	hRequesting  = "ANFORDERNDER_UENB"
	hFacility    = "BETROFFENE_ANLAGE"
	hEnergyType  = "PRIMAERENERGIEART"

	jFrom  = "From"
	jTo    = "To"
	jValue = "Value"
)

type normalizer func(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error)

// rule is the fixed expansion of one endpoint's records.
type rule struct {
	required  []string
	fanOut    int
	normalize normalizer
}

// column maps a packed source column to the value of the row it expands to.
type column struct {
	header string
	value  string
}

var tsoColumns = []struct {
	header string
	column string
}{
	{h50Hertz, schema.Col50Hertz},
	{hAmprion, schema.ColAmprion},
	{hTennet, schema.ColTennet},
	{hTransnetBW, schema.ColTransnetBW},
}

var negativeColumns = []column{
	{"Stunde1", "1h"},
	{"Stunde3", "3h"},
	{"Stunde4", "4h"},
	{"Stunde6", "6h"},
}

var premiumColumns = []column{
	{"MW-EPEX in ct/kWh", "base"},
	{"MW Wind Onshore in ct/kWh", "wind_onshore"},
	{"MW Wind Offshore in ct/kWh", "wind_offshore"},
	{"MW Solar in ct/kWh", "solar"},
}

func headers(cols []column) []string {
	res := make([]string, len(cols))
	for i, c := range cols {
		res[i] = c.header
	}
	return res
}

var renewableRule = &rule{
	required: []string{hDate, hFrom, hZoneFrom, hTo, hZoneTo, h50Hertz, hAmprion, hTennet, hTransnetBW},
	fanOut:   1,
	normalize: func(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
		row, err := intervalRow(t, rec, req)
		if err != nil {
			return nil, err
		}
		row.Set(schema.ColProductType, discriminator(req, schema.ColProductType))
		row.Set(schema.ColDataCategory, discriminator(req, schema.ColDataCategory))
		var total float64
		nulls := 0
		for _, c := range tsoColumns {
			raw, err := rec.Get(c.header)
			if err != nil {
				return nil, err
			}
			v, err := locale.NonNegative(c.header, raw, rec.Position)
			if err != nil {
				return nil, err
			}
			row.Set(c.column, v)
			if v.IsNull() {
				nulls++
			} else {
				total += v.Float()
			}
		}
		row.Set(schema.ColTotalGermany, schema.NullableFloat(total, nulls < len(tsoColumns)))
		row.Set(schema.ColHasMissingData, schema.NewBool(nulls > 0))
		return []schema.Row{row}, nil
	},
}

var rules = map[string]*rule{
	plan.EndpointForecast:      renewableRule,
	plan.EndpointExtrapolation: renewableRule,
	plan.EndpointOnline:        renewableRule,
	plan.EndpointSpot: {
		required: []string{hDate, hFrom, hZoneFrom, hTo, hZoneTo, hSpotPrice},
		fanOut:   1,
		normalize: func(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
			row, err := intervalRow(t, rec, req)
			if err != nil {
				return nil, err
			}
			raw, err := rec.Get(hSpotPrice)
			if err != nil {
				return nil, err
			}
			ct, err := locale.Decimal(hSpotPrice, raw, rec.Position)
			if err != nil {
				return nil, err
			}
			row.Set(schema.ColGranularity, schema.NewString("hourly"))
			row.Set(schema.ColPriceType, discriminator(req, schema.ColPriceType))
			setPrice(row, ct)
			return []schema.Row{row}, nil
		},
	},
	plan.EndpointNegative: {
		required:  append([]string{hDate}, headers(negativeColumns)...),
		fanOut:    len(negativeColumns),
		normalize: negativeFlags,
	},
	plan.EndpointMonthly: {
		required:  append([]string{hMonth}, headers(premiumColumns)...),
		fanOut:    len(premiumColumns),
		normalize: monthlyPremium,
	},
	plan.EndpointAnnual: {
		fanOut:    1,
		normalize: annualPrice,
	},
	plan.EndpointRedispatch: {
		required: []string{hBeginDate, hBeginTime, hBeginZone, hEndDate, hEndTime, hEndZone,
			hReason, hDirection, hAvgPower, hMaxPower, hTotalEnergy, hInstructing,
			hRequesting, hFacility, hEnergyType},
		fanOut:    1,
		normalize: redispatch,
	},
	plan.EndpointTrafficLight: {
		fanOut:    1,
		normalize: trafficLightStatus,
	},
}

func ruleFor(req plan.EndpointRequest) (*rule, error) {
	r, ok := rules[req.Endpoint]
	if !ok {
		return nil, errors.Reason("no transformation for endpoint '%s'", req.Endpoint)
	}
	return r, nil
}

// FanOut is the number of rows every record of the request's endpoint
// expands to, or 0 for an unknown endpoint.
func FanOut(req plan.EndpointRequest) int {
	r, err := ruleFor(req)
	if err != nil {
		return 0
	}
	return r.fanOut
}

func discriminator(req plan.EndpointRequest, col string) schema.Value {
	if v, ok := req.Discriminators[col]; ok {
		return schema.NewString(v)
	}
	return schema.Null(schema.TypeString)
}

func newRow(t *schema.Table, req plan.EndpointRequest, start, end time.Time) schema.Row {
	row := schema.NewRow(t)
	row.Set(schema.ColTimestamp, schema.NewTime(start))
	row.Set(schema.ColIntervalEnd, schema.NewTime(end))
	row.Set(schema.ColSourceEndpoint, schema.NewString(req.Path))
	return row
}

// setPrice fills the price and its derived columns from a ct/kWh value.
func setPrice(row schema.Row, ct schema.Value) {
	if ct.IsNull() {
		return
	}
	eur := ct.Float() * 10
	row.Set(schema.ColPriceEurMwh, schema.NewFloat(eur))
	row.Set(schema.ColPriceCtKwh, schema.NewFloat(eur/10))
	row.Set(schema.ColIsNegative, schema.NewBool(eur < 0))
}

// field reads several fields at once, stopping at the first missing one.
func field(rec RawRecord, names ...string) ([]string, error) {
	res := make([]string, len(names))
	for i, n := range names {
		v, err := rec.Get(n)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// interval parses a "date; from; zone; to; zone" group. An end time at or
// before the start time belongs to the next day.
func interval(rec RawRecord) (start, end time.Time, err error) {
	f, err := field(rec, hDate, hFrom, hZoneFrom, hTo, hZoneTo)
	if err != nil {
		return
	}
	d, err := locale.Date(hDate, f[0], locale.DMY, rec.Position)
	if err != nil {
		return
	}
	from, err := locale.ParseClock(hFrom, f[1], rec.Position)
	if err != nil {
		return
	}
	if err = locale.Zone(hZoneFrom, f[2], rec.Position); err != nil {
		return
	}
	to, err := locale.ParseClock(hTo, f[3], rec.Position)
	if err != nil {
		return
	}
	if err = locale.Zone(hZoneTo, f[4], rec.Position); err != nil {
		return
	}
	start = locale.At(d, from)
	end = locale.At(d, to)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return
}

func intervalRow(t *schema.Table, rec RawRecord, req plan.EndpointRequest) (schema.Row, error) {
	start, end, err := interval(rec)
	if err != nil {
		return schema.Row{}, err
	}
	row := newRow(t, req, start, end)
	if _, ok := t.Index(schema.ColIntervalMin); ok {
		m, err := locale.CheckInt16(schema.ColIntervalMin, int64(end.Sub(start)/time.Minute), rec.Position)
		if err != nil {
			return schema.Row{}, err
		}
		row.Set(schema.ColIntervalMin, m)
	}
	return row, nil
}

func negativeFlags(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	raw, err := rec.Get(hDate)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return nil, locale.NewFieldError(hDate, raw, rec.Position, "expected YYYY-MM-DD HH:MM")
	}
	d, err := locale.Date(hDate, parts[0], locale.YMD, rec.Position)
	if err != nil {
		return nil, err
	}
	c, err := locale.ParseClock(hDate, parts[1], rec.Position)
	if err != nil {
		return nil, err
	}
	start := locale.At(d, c)
	var res []schema.Row
	for _, col := range negativeColumns {
		raw, err := rec.Get(col.header)
		if err != nil {
			return nil, err
		}
		flag, err := locale.Flag(col.header, raw, rec.Position)
		if err != nil {
			return nil, err
		}
		row := newRow(t, req, start, start.Add(time.Hour))
		row.Set(schema.ColGranularity, schema.NewString("hourly"))
		row.Set(schema.ColPriceType, discriminator(req, schema.ColPriceType))
		row.Set(schema.ColNegativeHours, schema.NewString(col.value))
		row.Set(schema.ColNegativeFlag, flag)
		res = append(res, row)
	}
	return res, nil
}

// endOfDay is the last second of the date.
func endOfDay(d schema.Date) time.Time {
	return d.ToTime().Add(24*time.Hour - time.Second)
}

func monthlyPremium(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	raw, err := rec.Get(hMonth)
	if err != nil {
		return nil, err
	}
	m, err := locale.MonthYear(hMonth, raw, rec.Position)
	if err != nil {
		return nil, err
	}
	var res []schema.Row
	for _, col := range premiumColumns {
		raw, err := rec.Get(col.header)
		if err != nil {
			return nil, err
		}
		ct, err := locale.Decimal(col.header, raw, rec.Position)
		if err != nil {
			return nil, err
		}
		row := newRow(t, req, m.ToTime(), endOfDay(m.MonthEnd()))
		row.Set(schema.ColGranularity, schema.NewString("monthly"))
		row.Set(schema.ColPriceType, discriminator(req, schema.ColPriceType))
		row.Set(schema.ColProductCategory, schema.NewString(col.value))
		setPrice(row, ct)
		res = append(res, row)
	}
	return res, nil
}

var annualCategories = map[string]string{
	"JW":              "annual_overall",
	"JW Wind an Land": "wind_onshore",
	"JW Wind auf See": "wind_offshore",
	"JW Solar":        "solar",
}

func annualCategoryName(c string) string {
	if n, ok := annualCategories[c]; ok {
		return n
	}
	return strings.ReplaceAll(strings.ToLower(c), " ", "_")
}

func annualPrice(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	f, err := field(rec, annualCategory, annualValue)
	if err != nil {
		return nil, err
	}
	if f[0] == "" {
		return nil, locale.NewFieldError(annualCategory, f[0], rec.Position, "empty category")
	}
	ct, err := locale.Decimal(annualValue, f[1], rec.Position)
	if err != nil {
		return nil, err
	}
	y := req.Window.From.Year()
	row := newRow(t, req, schema.NewDate(y, 1, 1).ToTime(), endOfDay(schema.NewDate(y, 12, 31)))
	row.Set(schema.ColGranularity, schema.NewString("annual"))
	row.Set(schema.ColPriceType, discriminator(req, schema.ColPriceType))
	row.Set(schema.ColProductCategory, schema.NewString(annualCategoryName(f[0])))
	setPrice(row, ct)
	return []schema.Row{row}, nil
}

var directions = map[string]string{
	"Wirkleistungseinspeisung erhöhen":   "increase_generation",
	"Wirkleistungseinspeisung reduzieren": "reduce_generation",
}

func instant(rec RawRecord, date, clock, zone string) (time.Time, error) {
	f, err := field(rec, date, clock, zone)
	if err != nil {
		return time.Time{}, err
	}
	d, err := locale.Date(date, f[0], locale.DMY, rec.Position)
	if err != nil {
		return time.Time{}, err
	}
	c, err := locale.ParseClock(clock, f[1], rec.Position)
	if err != nil {
		return time.Time{}, err
	}
	if err := locale.Zone(zone, f[2], rec.Position); err != nil {
		return time.Time{}, err
	}
	return locale.At(d, c), nil
}

func redispatch(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	start, err := instant(rec, hBeginDate, hBeginTime, hBeginZone)
	if err != nil {
		return nil, err
	}
	end, err := instant(rec, hEndDate, hEndTime, hEndZone)
	if err != nil {
		return nil, err
	}
	row := newRow(t, req, start, end)

	dir, err := rec.Get(hDirection)
	if err != nil {
		return nil, err
	}
	d, ok := directions[dir]
	if !ok {
		return nil, locale.NewFieldError(hDirection, dir, rec.Position, "unknown direction")
	}
	row.Set(schema.ColDirection, schema.NewString(d))

	for _, c := range []struct{ header, column string }{
		{hAvgPower, schema.ColAvgPower},
		{hMaxPower, schema.ColMaxPower},
		{hTotalEnergy, schema.ColTotalEnergy},
	} {
		raw, err := rec.Get(c.header)
		if err != nil {
			return nil, err
		}
		v, err := locale.Decimal(c.header, raw, rec.Position)
		if err != nil {
			return nil, err
		}
		row.Set(c.column, v)
	}
	for _, c := range []struct{ header, column string }{
		{hReason, schema.ColReason},
		{hRequesting, schema.ColRequestingTSO},
		{hInstructing, schema.ColInstructingTSO},
		{hFacility, schema.ColAffectedFacility},
		{hEnergyType, schema.ColEnergyType},
	} {
		raw, err := rec.Get(c.header)
		if err != nil {
			return nil, err
		}
		row.Set(c.column, locale.Text(raw))
	}
	return []schema.Row{row}, nil
}

var gridStatuses = map[string]struct{}{
	"GREEN":      {},
	"GREEN_NEG":  {},
	"YELLOW":     {},
	"YELLOW_NEG": {},
	"RED":        {},
	"RED_NEG":    {},
}

func trafficLightStatus(t *schema.Table, rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	f, err := field(rec, jFrom, jTo, jValue)
	if err != nil {
		return nil, err
	}
	start, err := locale.Timestamp(jFrom, f[0], rec.Position)
	if err != nil {
		return nil, err
	}
	end, err := locale.Timestamp(jTo, f[1], rec.Position)
	if err != nil {
		return nil, err
	}
	if _, ok := gridStatuses[f[2]]; !ok {
		return nil, locale.NewFieldError(jValue, f[2], rec.Position, "unknown grid status")
	}
	row := newRow(t, req, start, end)
	m, err := locale.CheckInt16(schema.ColIntervalMin, int64(end.Sub(start)/time.Minute), rec.Position)
	if err != nil {
		return nil, err
	}
	row.Set(schema.ColIntervalMin, m)
	row.Set(schema.ColGridStatus, schema.NewString(f[2]))
	return []schema.Row{row}, nil
}
