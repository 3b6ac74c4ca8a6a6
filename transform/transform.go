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

// Package transform turns raw upstream response bodies into normalized rows.
//
// Parsing is driven by the request's declared format, never by sniffing the
// body. Each endpoint has a fixed expansion rule: one raw record always yields
// the same number of rows, and an empty packed field becomes a NULL cell
// rather than a missing row.
package transform

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/locale"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/schema"
)

// FooterMarker starts the metadata trailer of CSV and annual responses.
const FooterMarker = "==="

const utf8BOM = "\uFEFF"

// RawRecord is one upstream record with its fields keyed by the source header
// name.
type RawRecord struct {
	Position int // 1-based, excluding the header
	Fields   map[string]string
}

// Get the trimmed raw value of the field, or an error when the record lacks it.
func (r RawRecord) Get(field string) (string, error) {
	v, ok := r.Fields[field]
	if !ok {
		return "", locale.NewFieldError(field, "", r.Position, "missing field")
	}
	return strings.TrimSpace(v), nil
}

// decode returns the body as UTF-8 text. Bodies that are not valid UTF-8 are
// legacy Windows-1252 exports.
func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if utf8.Valid(data) {
		return string(data), nil
	}
	res, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", errkind.Wrap(errkind.FieldParse, err, "cannot decode response body")
	}
	return string(res), nil
}

func stripFooter(s string) string {
	if i := strings.Index(s, FooterMarker); i >= 0 {
		return s[:i]
	}
	return s
}

// Parse the response body into raw records according to the request's format.
// An empty body yields no records.
func Parse(data []byte, req plan.EndpointRequest) ([]RawRecord, error) {
	text, err := decode(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	r, err := ruleFor(req)
	if err != nil {
		return nil, err
	}
	switch req.Format {
	case plan.FormatCSV:
		return parseCSV(stripFooter(text), r.required)
	case plan.FormatJSON:
		return parseJSON(text)
	case plan.FormatAnnual:
		return parseAnnual(stripFooter(text))
	}
	return nil, errors.Reason("unsupported response format '%s' for %s", req.Format, req.Path)
}

func parseCSV(text string, required []string) ([]RawRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = ';'
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errkind.Wrap(errkind.FieldParse, err, "failed to read CSV header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for _, f := range required {
		found := false
		for _, h := range header {
			if h == f {
				found = true
				break
			}
		}
		if !found {
			return nil, locale.NewFieldError(f, strings.Join(header, ";"), 0, "missing column")
		}
	}

	var res []RawRecord
	for pos := 1; ; {
		line, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.FieldParse, err, "malformed CSV record %d", pos)
		}
		if blank(line) {
			continue
		}
		rec := RawRecord{Position: pos, Fields: make(map[string]string, len(header))}
		for i, h := range header {
			if i < len(line) {
				rec.Fields[h] = line[i]
			}
		}
		res = append(res, rec)
		pos++
	}
	return res, nil
}

func blank(line []string) bool {
	for _, f := range line {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// jsonScalar renders a JSON scalar as raw text; null is an empty field.
func jsonScalar(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case float64, bool:
		return string(bytes.TrimSpace(raw)), true
	}
	return "", false
}

// parseJSON reads a list of flat objects, such as the TrafficLight
// {"From", "To", "Value"} records. Absent keys stay absent, so that
// RawRecord.Get reports them as missing fields.
func parseJSON(text string) ([]RawRecord, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, errkind.Wrap(errkind.FieldParse, err, "failed to parse JSON response")
	}
	res := make([]RawRecord, len(items))
	for i, it := range items {
		fields := make(map[string]string, len(it))
		for k, raw := range it {
			v, ok := jsonScalar(raw)
			if !ok {
				return nil, locale.NewFieldError(k, string(raw), i+1, "not a JSON scalar")
			}
			fields[k] = v
		}
		res[i] = RawRecord{Position: i + 1, Fields: fields}
	}
	return res, nil
}

// Field names of the annual "category;value" lines.
const (
	annualCategory = "category"
	annualValue    = "value"
)

// skipAnnual checks for title lines ("Alle Werte in ct/kWh;2024") and bare
// year lines.
func skipAnnual(line string) bool {
	l := strings.ToLower(line)
	if strings.Contains(l, "alle") || strings.Contains(l, "werte") {
		return true
	}
	if len(line) == 4 {
		if _, err := strconv.Atoi(line); err == nil {
			return true
		}
	}
	return false
}

func parseAnnual(text string) ([]RawRecord, error) {
	var res []RawRecord
	pos := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || skipAnnual(line) {
			continue
		}
		pos++
		parts := strings.Split(line, ";")
		if len(parts) != 2 {
			return nil, locale.NewFieldError(annualCategory, line, pos,
				"expected 'category;value', got %d parts", len(parts))
		}
		res = append(res, RawRecord{
			Position: pos,
			Fields: map[string]string{
				annualCategory: parts[0],
				annualValue:    parts[1],
			},
		})
	}
	return res, nil
}

// Normalize a raw record into exactly FanOut(req) rows of the request's table.
func Normalize(rec RawRecord, req plan.EndpointRequest) ([]schema.Row, error) {
	r, err := ruleFor(req)
	if err != nil {
		return nil, err
	}
	t, err := schema.Lookup(req.Table)
	if err != nil {
		return nil, err
	}
	rows, err := r.normalize(t, rec, req)
	if err != nil {
		return nil, err
	}
	if len(rows) != r.fanOut {
		return nil, errors.Reason("%s: record %d produced %d rows, expected %d",
			req.Endpoint, rec.Position, len(rows), r.fanOut)
	}
	return rows, nil
}

// Rows parses and normalizes a complete response body, preserving the
// upstream record order.
func Rows(data []byte, req plan.EndpointRequest) ([]schema.Row, error) {
	recs, err := Parse(data, req)
	if err != nil {
		return nil, err
	}
	var res []schema.Row
	for _, rec := range recs {
		rows, err := Normalize(rec, req)
		if err != nil {
			return nil, err
		}
		res = append(res, rows...)
	}
	return res, nil
}
