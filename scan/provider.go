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

package scan

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/auth"
	"github.com/stockparfait/netztransparenz/config"
	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/ntp"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/schema"
)

// Handle identifies an open scan session.
type Handle string

// Fingerprint of a scan: the table, the predicates in any order and the
// projected columns in order. Equal fingerprints are served by the same
// buffer.
func Fingerprint(table schema.TableName, preds []plan.Predicate, columns []string) uint64 {
	ps := make([]string, len(preds))
	for i, p := range preds {
		ps[i] = p.String()
	}
	sort.Strings(ps)
	parts := []string{string(table), strings.Join(ps, "\x1f"), strings.Join(columns, ",")}
	return xxh3.HashString(strings.Join(parts, "\x1e"))
}

type entry struct {
	session *Session
	table   schema.TableName
	columns []string
}

// Provider opens and serves scan sessions. It is safe for concurrent use;
// each individual session is driven by one caller at a time.
type Provider struct {
	Router      *plan.Router
	Client      *ntp.Client // default API client; one in the context takes precedence
	Concurrency int

	mu       sync.Mutex
	sessions map[Handle]*entry
}

// NewProvider creates a Provider.
func NewProvider(r *plan.Router, c *ntp.Client, concurrency int) *Provider {
	return &Provider{
		Router:      r,
		Client:      c,
		Concurrency: concurrency,
		sessions:    make(map[Handle]*entry),
	}
}

// FromOptions wires a Provider from the configuration: the router for the
// API base URL, the OAuth2 token cache and the rate limited API client. A nil
// hc uses http.DefaultClient.
func FromOptions(o *config.Options, hc *http.Client) *Provider {
	cache := auth.NewCache(&auth.ClientCredentials{
		TokenURL:     o.TokenURL,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Scope:        o.Scope,
		HTTPClient:   hc,
	})
	r := plan.NewRouter(o.APIBaseURL)
	r.WindowDays = o.DefaultWindowDays
	return NewProvider(r, ntp.NewClient(hc, cache, o.RequestsPerSecond), o.MaxConcurrency)
}

func (p *Provider) open(ctx context.Context, table schema.TableName, preds []plan.Predicate, columns []string) (*Session, error) {
	rp, err := p.Router.Plan(table, preds, columns)
	if err != nil {
		return nil, err
	}
	logging.Infof(ctx, "%s: %d request(s) for %s, %d pushed and %d residual predicate(s)",
		table, len(rp.Requests), rp.Window, len(rp.Pushed), len(rp.Residual))
	client := ntp.GetClient(ctx)
	if client == nil {
		client = p.Client
	}
	if client == nil && len(rp.Requests) > 0 {
		return nil, errkind.New(errkind.UpstreamFetch, "no API client configured")
	}
	s, err := NewSession(rp, Fingerprint(table, preds, columns))
	if err != nil {
		return nil, err
	}
	if err := s.Fetch(ctx, client, p.Concurrency); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Provider) lookup(h Handle) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sessions[h]
	if !ok {
		return nil, misuse("unknown or ended session %q", h)
	}
	return e, nil
}

// Begin plans and fetches a scan, and returns the handle of its session
// positioned before the first row.
func (p *Provider) Begin(ctx context.Context, table schema.TableName, preds []plan.Predicate, columns []string) (Handle, error) {
	s, err := p.open(ctx, table, preds, columns)
	if err != nil {
		return "", err
	}
	h := Handle(uuid.NewString())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions == nil {
		p.sessions = make(map[Handle]*entry)
	}
	p.sessions[h] = &entry{session: s, table: table, columns: columns}
	return h, nil
}

// Next row of the session. The boolean is false past the last row.
func (p *Provider) Next(h Handle) (schema.Row, bool, error) {
	e, err := p.lookup(h)
	if err != nil {
		return schema.Row{}, false, err
	}
	return e.session.Next()
}

// Reset the session's cursor to the first row. Nothing is refetched.
func (p *Provider) Reset(h Handle) error {
	e, err := p.lookup(h)
	if err != nil {
		return err
	}
	return e.session.Reset()
}

// Rescan the session with possibly new predicates. When the fingerprint is
// unchanged the buffer is reused, otherwise the scan is planned and fetched
// again and the old buffer is released.
func (p *Provider) Rescan(ctx context.Context, h Handle, preds []plan.Predicate) error {
	e, err := p.lookup(h)
	if err != nil {
		return err
	}
	if Fingerprint(e.table, preds, e.columns) == e.session.Fingerprint {
		logging.Debugf(ctx, "rescan of %s reuses the buffer", h)
		return e.session.Reset()
	}
	s, err := p.open(ctx, e.table, preds, e.columns)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.sessions[h]; ok && cur == e {
		e.session.End()
		p.sessions[h] = &entry{session: s, table: e.table, columns: e.columns}
		return nil
	}
	s.End()
	return misuse("session %q ended during rescan", h)
}

// View returns the table declaration of the session's rows.
func (p *Provider) View(h Handle) (*schema.Table, error) {
	e, err := p.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.session.View(), nil
}

// End the session and release its buffer. Ending an unknown or already ended
// session is a no-op.
func (p *Provider) End(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.sessions[h]; ok {
		e.session.End()
		delete(p.sessions, h)
	}
	return nil
}
