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
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/schema"
)

// URL is the default base URL of the upstream API. It may be overwritten in
// tests before creating a Router.
var URL = "https://www.netztransparenz.de/api/ntp"

// DefaultWindowDays is the length of the date window used when a side of the
// timestamp range is not constrained.
const DefaultWindowDays = 7

// EndpointRequest is a single concrete upstream call.
type EndpointRequest struct {
	Table          schema.TableName
	Endpoint       string
	Product        string
	Discriminators map[string]string // values every row of the response carries
	Window         DateWindow
	Format         Format
	Path           string // relative to the base URL; also the row's source_endpoint
	URL            string
}

func (r EndpointRequest) String() string { return r.Path }

// RoutePlan is the outcome of planning a scan. Every input predicate is in
// Pushed or in Residual. A timestamp predicate is pushed only when the date
// window of every request enforces it exactly: a lower bound ">=" at midnight
// of the first date, or an upper bound "<" at midnight after the last date.
type RoutePlan struct {
	Table    *schema.Table
	Columns  []string
	Requests []EndpointRequest
	Pushed   []Predicate
	Residual []Predicate
	Window   DateWindow
}

// Router plans scans into upstream requests. The zero value is not usable;
// create it with NewRouter.
type Router struct {
	BaseURL    string
	Catalog    Catalog
	WindowDays int
	Now        func() time.Time // for the default window; injectable in tests
}

// NewRouter creates a Router with the default catalog.
func NewRouter(baseURL string) *Router {
	if baseURL == "" {
		baseURL = URL
	}
	return &Router{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Catalog:    DefaultCatalog(),
		WindowDays: DefaultWindowDays,
		Now:        time.Now,
	}
}

func unroutable(format string, args ...any) error {
	return errkind.New(errkind.UnroutableQuery, format, args...)
}

// normalize converts textual timestamp values into typed ones, so that local
// filtering compares instants rather than strings.
func normalize(p Predicate, c schema.Column) (Predicate, error) {
	if c.Type != schema.TypeTime {
		return p, nil
	}
	conv := func(v schema.Value) (schema.Value, error) {
		if v.IsNull() || v.Type() != schema.TypeString {
			return v, nil
		}
		t, err := parseInstant(v.Str())
		if err != nil {
			return v, unroutable("column %s: %s", c.Name, err.Error())
		}
		return schema.NewTime(t), nil
	}
	var err error
	if p.Value, err = conv(p.Value); err != nil {
		return p, err
	}
	if p.Upper, err = conv(p.Upper); err != nil {
		return p, err
	}
	if len(p.Values) == 0 {
		return p, nil
	}
	vs := make([]schema.Value, len(p.Values))
	for i, v := range p.Values {
		if vs[i], err = conv(v); err != nil {
			return p, err
		}
	}
	p.Values = vs
	return p, nil
}

// discriminatorValues extracts the values of a pushable discriminator
// predicate and checks them against the catalog.
func (r *Router) discriminatorValues(table schema.TableName, p Predicate) (map[string]struct{}, error) {
	vals := []schema.Value{p.Value}
	if p.Op == OpIn {
		vals = p.Values
	}
	res := make(map[string]struct{})
	for _, v := range vals {
		if v.IsNull() || v.Type() != schema.TypeString {
			return nil, unroutable("%s: discriminator %s requires a text value, got %s",
				table, p.Column, v)
		}
		if !r.Catalog.Known(table, p.Column, v.Str()) {
			return nil, unroutable("%s: unknown %s '%s'", table, p.Column, v.Str())
		}
		res[v.Str()] = struct{}{}
	}
	return res, nil
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil {
		return b
	}
	res := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			res[k] = struct{}{}
		}
	}
	return res
}

// Plan computes the upstream requests and the residual predicates for a scan
// of the table. It is deterministic for a fixed clock.
func (r *Router) Plan(name schema.TableName, preds []Predicate, columns []string) (*RoutePlan, error) {
	t, err := schema.Lookup(name)
	if err != nil {
		return nil, err
	}
	for _, c := range columns {
		if _, ok := t.Column(c); !ok {
			return nil, unroutable("table %s has no column '%s'", name, c)
		}
	}
	p := &RoutePlan{Table: t, Columns: columns}
	allowed := make(map[string]map[string]struct{}) // discriminator -> values
	var b bounds
	var stamps []Predicate

	for _, pred := range preds {
		c, ok := t.Column(pred.Column)
		if !ok {
			return nil, unroutable("table %s has no column '%s'", name, pred.Column)
		}
		if pred, err = normalize(pred, c); err != nil {
			return nil, err
		}
		switch {
		case c.Derived:
			p.Residual = append(p.Residual, pred)
		case c.Name == t.Timestamp:
			b.add(pred)
			stamps = append(stamps, pred)
		case t.IsDiscriminator(c.Name) && (pred.Op == OpEq || pred.Op == OpIn):
			vals, err := r.discriminatorValues(name, pred)
			if err != nil {
				return nil, err
			}
			allowed[c.Name] = intersect(allowed[c.Name], vals)
			p.Pushed = append(p.Pushed, pred)
		default:
			p.Residual = append(p.Residual, pred)
		}
	}

	days := r.WindowDays
	if days <= 0 {
		days = DefaultWindowDays
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if p.Window, err = b.window(days, schema.NewDateFromTime(now())); err != nil {
		return nil, err
	}

	for _, vals := range allowed {
		if len(vals) == 0 {
			p.Residual = append(p.Residual, stamps...)
			return p, nil // contradictory discriminators select nothing
		}
	}
	variants, err := r.selectVariants(name, allowed)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, v := range variants {
		for _, req := range r.requests(name, v, p.Window) {
			if _, ok := seen[req.URL]; ok {
				continue
			}
			seen[req.URL] = struct{}{}
			p.Requests = append(p.Requests, req)
		}
	}
	exact := true
	for _, req := range p.Requests {
		if req.Window != p.Window {
			exact = false
		}
	}
	for _, pred := range stamps {
		if exact && enforcedBy(pred, p.Window) {
			p.Pushed = append(p.Pushed, pred)
		} else {
			p.Residual = append(p.Residual, pred)
		}
	}
	return p, nil
}

// enforcedBy checks if fetching exactly the window's dates satisfies the
// timestamp predicate for every returned row.
func enforcedBy(p Predicate, w DateWindow) bool {
	if p.Value.IsNull() || p.Value.Type() != schema.TypeTime {
		return false
	}
	switch p.Op {
	case OpGe:
		return p.Value.Time().Equal(w.From.ToTime())
	case OpLt:
		return p.Value.Time().Equal(w.To.ToTime())
	}
	return false
}

func (r *Router) selectVariants(name schema.TableName, allowed map[string]map[string]struct{}) ([]Variant, error) {
	var res []Variant
	retired := 0
	for _, v := range r.Catalog[name] {
		match := true
		for col, vals := range allowed {
			if _, ok := vals[v.Values[col]]; !ok {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if v.Retired() {
			retired++
			continue
		}
		res = append(res, v)
	}
	if len(res) == 0 {
		var parts []string
		cols := maps.Keys(allowed)
		slices.Sort(cols)
		for _, col := range cols {
			vals := maps.Keys(allowed[col])
			slices.Sort(vals)
			parts = append(parts, fmt.Sprintf("%s in [%s]", col, strings.Join(vals, ", ")))
		}
		if retired > 0 {
			return nil, unroutable("%s: no upstream endpoint serves %s (retired)",
				name, strings.Join(parts, " and "))
		}
		return nil, unroutable("%s: no upstream endpoint serves %s", name, strings.Join(parts, " and "))
	}
	return res, nil
}

func (r *Router) newRequest(name schema.TableName, v Variant, w DateWindow, path string) EndpointRequest {
	disc := make(map[string]string, len(v.Values))
	for k, x := range v.Values {
		disc[k] = x
	}
	return EndpointRequest{
		Table:          name,
		Endpoint:       v.Endpoint,
		Product:        v.Product,
		Discriminators: disc,
		Window:         w,
		Format:         v.Format,
		Path:           path,
		URL:            strings.TrimRight(r.BaseURL, "/") + "/" + path,
	}
}

// requests builds the concrete requests of one variant for the window.
func (r *Router) requests(name schema.TableName, v Variant, w DateWindow) []EndpointRequest {
	switch v.Path {
	case PathAnnual:
		var res []EndpointRequest
		for _, y := range w.Years() {
			yw := DateWindow{
				From: schema.NewDate(uint16(y), 1, 1),
				To:   schema.NewDate(uint16(y+1), 1, 1),
			}
			res = append(res, r.newRequest(name, v, yw, fmt.Sprintf("%s/%04d", v.Endpoint, y)))
		}
		return res
	case PathMonthly:
		last := w.Last()
		mw := DateWindow{From: w.From.MonthStart(), To: last.MonthEnd().AddDays(1)}
		path := fmt.Sprintf("%s/%02d/%04d/%02d/%04d", v.Endpoint,
			w.From.Month(), w.From.Year(), last.Month(), last.Year())
		return []EndpointRequest{r.newRequest(name, v, mw, path)}
	}
	path := v.Endpoint
	if v.Product != "" {
		path += "/" + v.Product
	}
	path += "/" + w.From.String() + "/" + w.To.String()
	return []EndpointRequest{r.newRequest(name, v, w, path)}
}
