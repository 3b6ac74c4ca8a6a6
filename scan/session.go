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

// Package scan executes planned scans and serves their rows through a cursor.
package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/ntp"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/schema"
	"github.com/stockparfait/netztransparenz/transform"
)

// State of a scan session.
type State int

const (
	Built     State = iota // planned, nothing fetched
	Fetching               // requests in flight
	Buffered               // rows transformed, filtered and frozen
	Iterating              // cursor advancing
	Ended                  // buffer released
)

func (s State) String() string {
	switch s {
	case Built:
		return "Built"
	case Fetching:
		return "Fetching"
	case Buffered:
		return "Buffered"
	case Iterating:
		return "Iterating"
	}
	return "Ended"
}

// Session holds the plan, the buffered rows and the cursor of one scan. It is
// owned by a single caller and is not safe for concurrent use.
type Session struct {
	Plan        *plan.RoutePlan
	Fingerprint uint64

	view   *schema.Table
	rows   []schema.Row
	cursor int
	state  State
}

// NewSession creates a session in the Built state.
func NewSession(p *plan.RoutePlan, fingerprint uint64) (*Session, error) {
	view, err := p.Table.Project(p.Columns)
	if err != nil {
		return nil, err
	}
	return &Session{Plan: p, Fingerprint: fingerprint, view: view}, nil
}

func misuse(format string, args ...any) error {
	return errkind.New(errkind.CursorMisuse, format, args...)
}

// State of the session.
func (s *Session) State() State { return s.state }

// Len is the number of buffered rows.
func (s *Session) Len() int { return len(s.rows) }

// View is the table declaration of the rows returned by Next.
func (s *Session) View() *schema.Table { return s.view }

type fetchJob struct {
	index int
	req   plan.EndpointRequest
}

type fetchResult struct {
	index int
	rows  []schema.Row
	err   error
}

// Fetch all the planned requests, at most concurrency at a time, and buffer
// the rows satisfying the residual predicates. The first failing request
// cancels the others and fails the session.
func (s *Session) Fetch(ctx context.Context, client *ntp.Client, concurrency int) error {
	if s.state != Built {
		return misuse("cannot fetch a session in state %s", s.state)
	}
	s.state = Fetching
	if concurrency < 1 {
		concurrency = 1
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) error {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		return err
	}

	jobs := make([]fetchJob, len(s.Plan.Requests))
	for i, r := range s.Plan.Requests {
		jobs[i] = fetchJob{index: i, req: r}
	}
	f := func(j fetchJob) fetchResult {
		if err := fctx.Err(); err != nil {
			return fetchResult{index: j.index,
				err: errkind.Wrap(errkind.UpstreamFetch, err, "%s: cancelled", j.req.Path)}
		}
		body, err := client.Get(fctx, j.req.URL)
		if err != nil {
			return fetchResult{index: j.index, err: fail(err)}
		}
		rows, err := transform.Rows(body, j.req)
		if err != nil {
			err = errkind.Wrap(errkind.Of(err), err, "failed to transform %s", j.req.Path)
			return fetchResult{index: j.index, err: fail(err)}
		}
		logging.Infof(ctx, "fetched %s: %d bytes, %d rows", j.req.Path, len(body), len(rows))
		return fetchResult{index: j.index, rows: rows}
	}
	pm := iterator.ParallelMap(ctx, concurrency, iterator.FromSlice(jobs), f)
	defer pm.Close()

	results := iterator.Reduce[fetchResult, []fetchResult](pm, []fetchResult{},
		func(r fetchResult, acc []fetchResult) []fetchResult {
			return append(acc, r)
		})
	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err == nil {
		for _, r := range results {
			if r.err != nil {
				err = r.err
				break
			}
		}
	}
	if err == nil && len(results) != len(jobs) {
		err = errkind.New(errkind.UpstreamFetch, "fetch interrupted after %d of %d requests",
			len(results), len(jobs))
	}
	if err != nil {
		s.End()
		return err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	total := 0
	for _, r := range results {
		for _, row := range r.rows {
			total++
			if plan.MatchAll(s.Plan.Residual, row) {
				s.rows = append(s.rows, row.Project(s.view))
			}
		}
	}
	logging.Debugf(ctx, "%s: residual filter kept %d of %d rows",
		s.Plan.Table.Name, len(s.rows), total)
	s.state = Buffered
	return nil
}

// Next returns the row under the cursor and advances it. Past the last row it
// returns false, on every call.
func (s *Session) Next() (schema.Row, bool, error) {
	switch s.state {
	case Buffered, Iterating:
	default:
		return schema.Row{}, false, misuse("next called on a session in state %s", s.state)
	}
	s.state = Iterating
	if s.cursor >= len(s.rows) {
		return schema.Row{}, false, nil
	}
	r := s.rows[s.cursor]
	s.cursor++
	return r, true, nil
}

// Reset the cursor to the first row without refetching.
func (s *Session) Reset() error {
	switch s.state {
	case Buffered, Iterating:
	default:
		return misuse("reset called on a session in state %s", s.state)
	}
	s.cursor = 0
	return nil
}

// End releases the buffer. Calling it again is a no-op.
func (s *Session) End() {
	s.rows = nil
	s.cursor = 0
	s.state = Ended
}
