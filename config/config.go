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

// Package config defines the options of the scan provider, read from a TOML
// file or from the host's option map.
package config

import (
	"net/url"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/maps"

	"github.com/stockparfait/errors"
)

// Options of the scan provider.
type Options struct {
	APIBaseURL        string  `toml:"api_base_url" default:"https://www.netztransparenz.de/api/ntp"`
	TokenURL          string  `toml:"oauth2_token_url" default:"https://identity.netztransparenz.de/users/connect/token"`
	ClientID          string  `toml:"oauth2_client_id" required:"true"`
	ClientSecret      string  `toml:"oauth2_client_secret" required:"true"`
	Scope             string  `toml:"oauth2_scope" default:"ntpStatistic.read_all_public"`
	MaxConcurrency    int     `toml:"max_concurrency" default:"4"`
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 = unlimited
	DefaultWindowDays int     `toml:"default_window_days" default:"7"`
}

// Init sets the options from a flat map of values, applying defaults and
// checking ranges.
func (o *Options) Init(opts map[string]any) error {
	if opts == nil {
		opts = map[string]any{}
	}
	if err := initFields(o, opts); err != nil {
		return errors.Annotate(err, "failed to init Options")
	}
	for _, u := range []struct{ name, value string }{
		{"api_base_url", o.APIBaseURL},
		{"oauth2_token_url", o.TokenURL},
	} {
		p, err := url.Parse(u.value)
		if err != nil {
			return errors.Annotate(err, "invalid %s", u.name)
		}
		if (p.Scheme != "http" && p.Scheme != "https") || p.Host == "" {
			return errors.Reason("%s must be an absolute http(s) URL: '%s'", u.name, u.value)
		}
	}
	if o.MaxConcurrency < 1 {
		return errors.Reason("max_concurrency must be at least 1, got %d", o.MaxConcurrency)
	}
	if o.RequestsPerSecond < 0 {
		return errors.Reason("requests_per_second must not be negative, got %g", o.RequestsPerSecond)
	}
	if o.DefaultWindowDays < 1 {
		return errors.Reason("default_window_days must be at least 1, got %d", o.DefaultWindowDays)
	}
	return nil
}

// FromMap creates Options from the host's string option map.
func FromMap(m map[string]string) (*Options, error) {
	opts := make(map[string]any, len(m))
	for _, k := range maps.Keys(m) {
		opts[k] = m[k]
	}
	var o Options
	if err := o.Init(opts); err != nil {
		return nil, err
	}
	return &o, nil
}

// Load Options from a TOML file.
func Load(path string) (*Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", path)
	}
	defer f.Close()

	opts := make(map[string]any)
	if err := toml.NewDecoder(f).Decode(&opts); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", path)
	}
	var o Options
	if err := o.Init(opts); err != nil {
		return nil, errors.Annotate(err, "invalid config file %s", path)
	}
	return &o, nil
}
