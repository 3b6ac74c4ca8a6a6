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

package config

import (
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/stockparfait/errors"
)

// initFields assigns the exported fields of the struct pointed to by m from
// the flat option map, keyed by each field's `toml` tag. Values may be native
// TOML values or strings, which are converted to the field type.
//
// Recognized struct tags:
// `toml:"key" required:"true" default:"value" choices:"one,two"`
//
// A blank string counts as absent. Unknown keys are an error.
func initFields(m any, opts map[string]any) error {
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.Reason("expected a struct pointer, got %s", rv.Type())
	}
	rv = rv.Elem()
	rt := rv.Type()

	found := make(map[string]struct{})
	var missing []string
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		key := strings.Split(f.Tag.Get("toml"), ",")[0]
		if key == "-" {
			continue
		}
		if key == "" {
			key = f.Name
		}
		raw, ok := opts[key]
		if s, isStr := raw.(string); isStr && strings.TrimSpace(s) == "" {
			ok = false
		}
		if ok {
			found[key] = struct{}{}
		} else {
			if _, present := opts[key]; present {
				found[key] = struct{}{}
			}
			if f.Tag.Get("required") == "true" {
				missing = append(missing, key)
				continue
			}
			def, hasDefault := f.Tag.Lookup("default")
			if !hasDefault {
				continue
			}
			raw = def
		}
		v, err := convert(raw, f.Type)
		if err != nil {
			return errors.Annotate(err, "invalid value for %s", key)
		}
		if choices, ok := f.Tag.Lookup("choices"); ok && v.Kind() == reflect.String {
			if !slices.Contains(strings.Split(choices, ","), v.String()) {
				return errors.Reason("%s must be one of [%s], got '%s'", key, choices, v.String())
			}
		}
		rv.Field(i).Set(v)
	}
	if len(missing) != 0 {
		return errors.Reason("missing required options: %s", strings.Join(missing, ", "))
	}
	var extra []string
	for _, k := range maps.Keys(opts) {
		if _, ok := found[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) != 0 {
		slices.Sort(extra)
		return errors.Reason("unsupported options: %s", strings.Join(extra, ", "))
	}
	return nil
}

// convert a native TOML value or a string to the type t.
func convert(raw any, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	if s, ok := raw.(string); ok {
		return fromString(strings.TrimSpace(s), t)
	}
	switch t.Kind() {
	case reflect.Bool:
		if b, ok := raw.(bool); ok {
			return reflect.ValueOf(b), nil
		}
	case reflect.Int:
		switch n := raw.(type) {
		case int64:
			return reflect.ValueOf(int(n)), nil
		case int:
			return reflect.ValueOf(n), nil
		case float64:
			if n == float64(int(n)) {
				return reflect.ValueOf(int(n)), nil
			}
		}
	case reflect.Float64:
		switch n := raw.(type) {
		case float64:
			return reflect.ValueOf(n), nil
		case int64:
			return reflect.ValueOf(float64(n)), nil
		case int:
			return reflect.ValueOf(float64(n)), nil
		}
	}
	return Nil, errors.Reason("cannot use %v (%T) as %s", raw, raw, t.Kind())
}

func fromString(s string, t reflect.Type) (reflect.Value, error) {
	var Nil reflect.Value
	switch t.Kind() {
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid bool value: %s", s)
		}
		return reflect.ValueOf(v), nil
	case reflect.Int:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid int value: %s", s)
		}
		return reflect.ValueOf(int(v)), nil
	case reflect.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Nil, errors.Annotate(err, "invalid float64 value: %s", s)
		}
		return reflect.ValueOf(v), nil
	case reflect.String:
		return reflect.ValueOf(s), nil
	}
	return Nil, errors.Reason("type %s is not supported", t.Kind())
}
