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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stockparfait/netztransparenz/config"
	"github.com/stockparfait/netztransparenz/errkind"
	"github.com/stockparfait/netztransparenz/ntp"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/schema"

	. "github.com/smartystreets/goconvey/convey"
)

const renewableHeader = "Datum;von;Zeitzone von;bis;Zeitzone bis;50Hertz (MW);Amprion (MW);TenneT TSO (MW);TransnetBW (MW)"

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func at(s string) schema.Value { return schema.NewTime(utc(s)) }

func str(s string) schema.Value { return schema.NewString(s) }

// upstream serves fixed bodies or status codes by request path and counts
// the hits.
type upstream struct {
	srv    *httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	codes  map[string]int
	hits   map[string]int
}

func newUpstream() *upstream {
	u := &upstream{
		bodies: make(map[string]string),
		codes:  make(map[string]int),
		hits:   make(map[string]int),
	}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		u.mu.Lock()
		u.hits[path]++
		code, hasCode := u.codes[path]
		body, hasBody := u.bodies[path]
		u.mu.Unlock()
		switch {
		case hasCode:
			w.WriteHeader(code)
		case hasBody:
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return u
}

func (u *upstream) set(path, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bodies[path] = body
}

func (u *upstream) fail(path string, code int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.codes[path] = code
}

func (u *upstream) hit(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func (u *upstream) total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, h := range u.hits {
		n += h
	}
	return n
}

type staticToken struct{}

func (staticToken) Token(ctx context.Context) (string, error) { return "token", nil }
func (staticToken) Invalidate()                               {}

func (u *upstream) provider() *Provider {
	r := plan.NewRouter(u.srv.URL)
	r.Now = func() time.Time { return utc("2024-10-25T12:00:00Z") }
	return NewProvider(r, ntp.NewClient(u.srv.Client(), staticToken{}, 0), 3)
}

func renewableDay(date string, tennet string) string {
	var b strings.Builder
	b.WriteString(renewableHeader + "\n")
	start := utc(date + "T00:00:00Z")
	for i := 0; i < 96; i++ {
		from := start.Add(time.Duration(i) * 15 * time.Minute)
		to := from.Add(15 * time.Minute)
		fmt.Fprintf(&b, "%s;%s;UTC;%s;UTC;1;2;%s;0\n",
			from.Format("02.01.2006"), from.Format("15:04"), to.Format("15:04"), tennet)
	}
	b.WriteString("=== Quelle: Netztransparenz\n")
	return b.String()
}

func trafficLight(stamps ...string) string {
	var parts []string
	for _, s := range stamps {
		to := utc(s).Add(time.Minute).Format(time.RFC3339)
		parts = append(parts, fmt.Sprintf(`{"From":"%s","To":"%s","Value":"GREEN"}`, s, to))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func drain(p *Provider, h Handle) []string {
	var res []string
	for {
		r, ok, err := p.Next(h)
		So(err, ShouldBeNil)
		if !ok {
			return res
		}
		res = append(res, strings.Join(r.CSV(), ","))
	}
}

func TestProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	Convey("Provider", t, func() {
		u := newUpstream()
		defer u.srv.Close()
		p := u.provider()

		solar := []plan.Predicate{
			plan.Eq(schema.ColProductType, str("solar")),
			plan.Eq(schema.ColDataCategory, str("extrapolation")),
			plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
			plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
		}
		u.set("hochrechnung/Solar/2024-10-20/2024-10-21", renewableDay("2024-10-20", "7"))

		Convey("solar extrapolation for a day", func() {
			h, err := p.Begin(ctx, schema.Renewable, solar, nil)
			So(err, ShouldBeNil)
			rows := drain(p, h)
			So(len(rows), ShouldEqual, 96)
			So(rows[0], ShouldStartWith, "2024-10-20T00:00:00Z,2024-10-20T00:15:00Z,15,solar,extrapolation,")
			So(u.total(), ShouldEqual, 1)

			Convey("the end of data is reported on every call", func() {
				for i := 0; i < 3; i++ {
					_, ok, err := p.Next(h)
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
				}
			})

			Convey("reset replays the same rows without refetching", func() {
				So(p.Reset(h), ShouldBeNil)
				So(drain(p, h), ShouldResemble, rows)
				So(u.total(), ShouldEqual, 1)
			})

			Convey("reset in the middle of the rows", func() {
				So(p.Reset(h), ShouldBeNil)
				for i := 0; i < 10; i++ {
					_, ok, err := p.Next(h)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
				}
				So(p.Reset(h), ShouldBeNil)
				So(drain(p, h), ShouldResemble, rows)
			})

			Convey("a fresh session yields the same rows", func() {
				h2, err := p.Begin(ctx, schema.Renewable, solar, nil)
				So(err, ShouldBeNil)
				So(h2, ShouldNotEqual, h)
				So(drain(p, h2), ShouldResemble, rows)
				So(u.total(), ShouldEqual, 2)
			})

			Convey("cursor calls after end are misuse", func() {
				So(p.End(h), ShouldBeNil)
				So(p.End(h), ShouldBeNil)
				_, _, err := p.Next(h)
				So(errkind.Is(err, errkind.CursorMisuse), ShouldBeTrue)
				So(errkind.Is(p.Reset(h), errkind.CursorMisuse), ShouldBeTrue)
				So(errkind.Is(p.Rescan(ctx, h, solar), errkind.CursorMisuse), ShouldBeTrue)
			})
		})

		Convey("projection", func() {
			cols := []string{schema.ColTennet, schema.ColTimestamp}
			h, err := p.Begin(ctx, schema.Renewable, solar, cols)
			So(err, ShouldBeNil)
			view, err := p.View(h)
			So(err, ShouldBeNil)
			So(view.Names(), ShouldResemble, cols)
			r, ok, err := p.Next(h)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(len(r.Values), ShouldEqual, 2)
			So(r.Values[0].Float(), ShouldEqual, 7.0)
		})

		Convey("rows follow the plan order", func() {
			u.set("prognose/Solar/2024-10-20/2024-10-21", renewableDay("2024-10-20", "1"))
			u.set("onlinehochrechnung/Solar/2024-10-20/2024-10-21", renewableDay("2024-10-20", "3"))
			h, err := p.Begin(ctx, schema.Renewable, []plan.Predicate{
				plan.Eq(schema.ColProductType, str("solar")),
				plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
				plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
			}, []string{schema.ColDataCategory})
			So(err, ShouldBeNil)
			rows := drain(p, h)
			So(len(rows), ShouldEqual, 3*96)
			So(rows[0], ShouldEqual, "forecast")
			So(rows[96], ShouldEqual, "extrapolation")
			So(rows[2*96], ShouldEqual, "online_actual")
		})

		Convey("residual filtering", func() {
			h, err := p.Begin(ctx, schema.Renewable, append(solar,
				plan.Ge(schema.ColTimestamp, at("2024-10-20T12:00:00Z"))), nil)
			So(err, ShouldBeNil)
			So(len(drain(p, h)), ShouldEqual, 48)
		})

		Convey("negative price flags for a day", func() {
			var b strings.Builder
			b.WriteString("Datum;Stunde1;Stunde3;Stunde4;Stunde6\n")
			for h := 0; h < 24; h++ {
				flags := "0;0;0;0"
				if h == 13 {
					flags = "1;1;1;0"
				}
				fmt.Fprintf(&b, "2024-10-20 %02d:00;%s\n", h, flags)
			}
			u.set("NegativePreise/2024-10-20/2024-10-21", b.String())
			h, err := p.Begin(ctx, schema.Prices, []plan.Predicate{
				plan.Eq(schema.ColPriceType, str("negative_flag")),
				plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
				plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
			}, []string{schema.ColTimestamp, schema.ColNegativeHours, schema.ColNegativeFlag})
			So(err, ShouldBeNil)
			rows := drain(p, h)
			So(len(rows), ShouldEqual, 96)
			So(rows[52:56], ShouldResemble, []string{
				"2024-10-20T13:00:00Z,1h,true",
				"2024-10-20T13:00:00Z,3h,true",
				"2024-10-20T13:00:00Z,4h,true",
				"2024-10-20T13:00:00Z,6h,false",
			})
			So(u.total(), ShouldEqual, 1)
		})

		Convey("the API client may come from the context", func() {
			bare := NewProvider(p.Router, nil, 2)
			_, err := bare.Begin(ctx, schema.Renewable, solar, nil)
			So(errkind.Is(err, errkind.UpstreamFetch), ShouldBeTrue)

			cctx := ntp.UseClient(ctx, ntp.NewClient(u.srv.Client(), staticToken{}, 0))
			h, err := bare.Begin(cctx, schema.Renewable, solar, nil)
			So(err, ShouldBeNil)
			So(len(drain(bare, h)), ShouldEqual, 96)
		})

		Convey("no data is zero rows", func() {
			h, err := p.Begin(ctx, schema.GridStatus, []plan.Predicate{
				plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
				plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
			}, nil)
			So(err, ShouldBeNil)
			_, ok, err := p.Next(h)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("contradictory discriminators fetch nothing", func() {
			h, err := p.Begin(ctx, schema.Renewable, []plan.Predicate{
				plan.Eq(schema.ColProductType, str("solar")),
				plan.Eq(schema.ColProductType, str("wind_onshore")),
			}, nil)
			So(err, ShouldBeNil)
			So(len(drain(p, h)), ShouldEqual, 0)
			So(u.total(), ShouldEqual, 0)
		})

		Convey("unroutable scans open no session", func() {
			h, err := p.Begin(ctx, schema.Renewable, []plan.Predicate{
				plan.Eq(schema.ColProductType, str("hydro")),
			}, nil)
			So(errkind.Is(err, errkind.UnroutableQuery), ShouldBeTrue)
			So(h, ShouldEqual, Handle(""))
			So(u.total(), ShouldEqual, 0)
		})

		Convey("rate limiting fails the scan", func() {
			u.fail("hochrechnung/Solar/2024-10-20/2024-10-21", http.StatusTooManyRequests)
			_, err := p.Begin(ctx, schema.Renewable, solar, nil)
			So(errkind.Is(err, errkind.UpstreamFetch), ShouldBeTrue)
		})

		Convey("one failing request fails the whole scan", func() {
			day := []plan.Predicate{
				plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
				plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
			}
			for _, path := range []string{
				"prognose/Solar", "onlinehochrechnung/Solar", "prognose/Wind",
				"hochrechnung/Wind", "onlinehochrechnung/Windonshore",
				"onlinehochrechnung/Windoffshore",
			} {
				u.set(path+"/2024-10-20/2024-10-21", renewableDay("2024-10-20", "1"))
			}
			u.fail("prognose/Wind/2024-10-20/2024-10-21", http.StatusInternalServerError)
			_, err := p.Begin(ctx, schema.Renewable, day, nil)
			So(errkind.Is(err, errkind.UpstreamFetch), ShouldBeTrue)
		})

		Convey("malformed bodies fail with a field error", func() {
			u.set("hochrechnung/Solar/2024-10-20/2024-10-21", renewableHeader +
				"\n20.10.2024;00:00;UTC;00:15;UTC;1;abc;2;3\n")
			_, err := p.Begin(ctx, schema.Renewable, solar, nil)
			So(errkind.Is(err, errkind.FieldParse), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "hochrechnung/Solar/2024-10-20/2024-10-21")
		})

		Convey("intervals across midnight", func() {
			u.set("TrafficLight/2024-10-20/2024-10-21", trafficLight(
				"2024-10-20T23:58:00Z", "2024-10-20T23:59:00Z"))
			u.set("TrafficLight/2024-10-20/2024-10-22", trafficLight(
				"2024-10-20T23:58:00Z", "2024-10-20T23:59:00Z",
				"2024-10-21T00:00:00Z", "2024-10-21T00:01:00Z"))
			late := plan.Ge(schema.ColTimestamp, at("2024-10-20T23:00:00Z"))

			Convey("an exclusive midnight bound stays on the day", func() {
				h, err := p.Begin(ctx, schema.GridStatus, []plan.Predicate{
					late, plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
				}, nil)
				So(err, ShouldBeNil)
				So(len(drain(p, h)), ShouldEqual, 2)
				So(u.hit("TrafficLight/2024-10-20/2024-10-21"), ShouldEqual, 1)
			})

			Convey("an inclusive midnight bound reaches the next day", func() {
				h, err := p.Begin(ctx, schema.GridStatus, []plan.Predicate{
					late, plan.Le(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
				}, nil)
				So(err, ShouldBeNil)
				rows := drain(p, h)
				So(len(rows), ShouldEqual, 3)
				So(rows[2], ShouldStartWith, "2024-10-21T00:00:00Z,")
				So(u.hit("TrafficLight/2024-10-20/2024-10-22"), ShouldEqual, 1)
			})
		})

		Convey("rescan", func() {
			u.set("TrafficLight/2024-10-20/2024-10-22", trafficLight(
				"2024-10-20T10:00:00Z", "2024-10-20T11:00:00Z", "2024-10-21T10:00:00Z"))
			u.set("TrafficLight/2024-10-21/2024-10-22", trafficLight("2024-10-21T10:00:00Z"))
			preds := []plan.Predicate{
				plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
				plan.Lt(schema.ColTimestamp, at("2024-10-22T00:00:00Z")),
			}
			h, err := p.Begin(ctx, schema.GridStatus, preds, nil)
			So(err, ShouldBeNil)
			first, ok, err := p.Next(h)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("with the same predicates reuses the buffer", func() {
				So(p.Rescan(ctx, h, []plan.Predicate{preds[1], preds[0]}), ShouldBeNil)
				r, ok, err := p.Next(h)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(r.CSV(), ShouldResemble, first.CSV())
				So(u.total(), ShouldEqual, 1)
			})

			Convey("with new predicates refetches", func() {
				So(p.Rescan(ctx, h, append(preds,
					plan.Ge(schema.ColTimestamp, at("2024-10-21T00:00:00Z")))), ShouldBeNil)
				rows := drain(p, h)
				So(len(rows), ShouldEqual, 1)
				So(rows[0], ShouldStartWith, "2024-10-21T10:00:00Z,")
				So(u.total(), ShouldEqual, 2)
			})
		})
	})
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	Convey("Fingerprint", t, func() {
		a := plan.Eq(schema.ColProductType, str("solar"))
		b := plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z"))
		cols := []string{schema.ColTimestamp, schema.ColTennet}
		fp := Fingerprint(schema.Renewable, []plan.Predicate{a, b}, cols)

		So(Fingerprint(schema.Renewable, []plan.Predicate{b, a}, cols), ShouldEqual, fp)
		So(Fingerprint(schema.Renewable, []plan.Predicate{a}, cols), ShouldNotEqual, fp)
		So(Fingerprint(schema.Renewable, []plan.Predicate{a, b}, nil), ShouldNotEqual, fp)
		So(Fingerprint(schema.Renewable, []plan.Predicate{a, b},
			[]string{schema.ColTennet, schema.ColTimestamp}), ShouldNotEqual, fp)
		So(Fingerprint(schema.GridStatus, []plan.Predicate{a, b}, cols), ShouldNotEqual, fp)
	})
}

func TestSession(t *testing.T) {
	t.Parallel()

	Convey("Session states", t, func() {
		r := plan.NewRouter("https://api.test/ntp")
		rp, err := r.Plan(schema.GridStatus, nil, nil)
		So(err, ShouldBeNil)
		s, err := NewSession(rp, 0)
		So(err, ShouldBeNil)
		So(s.State(), ShouldEqual, Built)

		_, _, err = s.Next()
		So(errkind.Is(err, errkind.CursorMisuse), ShouldBeTrue)
		So(errkind.Is(s.Reset(), errkind.CursorMisuse), ShouldBeTrue)

		s.End()
		So(s.State(), ShouldEqual, Ended)
		s.End()
		So(s.State(), ShouldEqual, Ended)
		So(errkind.Is(s.Fetch(context.Background(), nil, 1), errkind.CursorMisuse), ShouldBeTrue)
	})
}

func TestFromOptions(t *testing.T) {
	t.Parallel()

	Convey("Provider wired from options", t, func() {
		var mu sync.Mutex
		var auths []string
		tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"abc","token_type":"Bearer","expires_in":3600}`)
		}))
		defer tokens.Close()
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			auths = append(auths, r.Header.Get("Authorization"))
			mu.Unlock()
			fmt.Fprint(w, trafficLight("2024-10-20T10:00:00Z"))
		}))
		defer api.Close()

		p := FromOptions(&config.Options{
			APIBaseURL:        api.URL,
			TokenURL:          tokens.URL,
			ClientID:          "id",
			ClientSecret:      "secret",
			Scope:             "scope",
			MaxConcurrency:    2,
			RequestsPerSecond: 100,
			DefaultWindowDays: 7,
		}, nil)
		h, err := p.Begin(context.Background(), schema.GridStatus, []plan.Predicate{
			plan.Ge(schema.ColTimestamp, at("2024-10-20T00:00:00Z")),
			plan.Lt(schema.ColTimestamp, at("2024-10-21T00:00:00Z")),
		}, []string{schema.ColGridStatus})
		So(err, ShouldBeNil)
		r, ok, err := p.Next(h)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(r.CSV(), ShouldResemble, []string{"GREEN"})
		mu.Lock()
		defer mu.Unlock()
		So(auths, ShouldResemble, []string{"Bearer abc"})
	})
}
