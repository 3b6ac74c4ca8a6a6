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
	"os"
	"path/filepath"
	"testing"

	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOptions(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_config")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("FromMap", t, func() {
		Convey("defaults", func() {
			o, err := FromMap(map[string]string{
				"oauth2_client_id":     "id",
				"oauth2_client_secret": "secret",
			})
			So(err, ShouldBeNil)
			So(*o, ShouldResemble, Options{
				APIBaseURL:        "https://www.netztransparenz.de/api/ntp",
				TokenURL:          "https://identity.netztransparenz.de/users/connect/token",
				ClientID:          "id",
				ClientSecret:      "secret",
				Scope:             "ntpStatistic.read_all_public",
				MaxConcurrency:    4,
				RequestsPerSecond: 0,
				DefaultWindowDays: 7,
			})
		})

		Convey("explicit values are converted", func() {
			o, err := FromMap(map[string]string{
				"api_base_url":         "http://localhost:8080/api/",
				"oauth2_client_id":     "id",
				"oauth2_client_secret": "secret",
				"max_concurrency":      " 2",
				"requests_per_second":  "0.5",
				"default_window_days":  "14",
			})
			So(err, ShouldBeNil)
			So(o.APIBaseURL, ShouldEqual, "http://localhost:8080/api/")
			So(o.MaxConcurrency, ShouldEqual, 2)
			So(o.RequestsPerSecond, ShouldEqual, 0.5)
			So(o.DefaultWindowDays, ShouldEqual, 14)
		})

		Convey("missing credentials", func() {
			_, err := FromMap(map[string]string{"oauth2_client_id": "id", "oauth2_client_secret": " "})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "missing required options: oauth2_client_secret")
		})

		Convey("unknown keys and bad values", func() {
			base := func() map[string]string {
				return map[string]string{"oauth2_client_id": "id", "oauth2_client_secret": "s"}
			}
			m := base()
			m["zzz"] = "1"
			m["aaa"] = "2"
			_, err := FromMap(m)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unsupported options: aaa, zzz")

			for k, v := range map[string]string{
				"max_concurrency":     "0",
				"requests_per_second": "-1",
				"default_window_days": "many",
				"api_base_url":        "not a url",
				"oauth2_token_url":    "ftp://example.com/token",
			} {
				m := base()
				m[k] = v
				_, err := FromMap(m)
				So(err, ShouldNotBeNil)
			}
		})
	})

	Convey("Load", t, func() {
		fileName := filepath.Join(tmpdir, "config.toml")

		Convey("native TOML values", func() {
			So(testutil.WriteFile(fileName, `
oauth2_client_id = "id"
oauth2_client_secret = "secret"
max_concurrency = 8
requests_per_second = 2
`), ShouldBeNil)
			o, err := Load(fileName)
			So(err, ShouldBeNil)
			So(o.ClientID, ShouldEqual, "id")
			So(o.MaxConcurrency, ShouldEqual, 8)
			So(o.RequestsPerSecond, ShouldEqual, 2.0)
			So(o.DefaultWindowDays, ShouldEqual, 7)
		})

		Convey("type mismatch", func() {
			So(testutil.WriteFile(fileName, `
oauth2_client_id = "id"
oauth2_client_secret = "secret"
max_concurrency = 1.5
`), ShouldBeNil)
			_, err := Load(fileName)
			So(err, ShouldNotBeNil)
		})

		Convey("missing file", func() {
			_, err := Load(filepath.Join(tmpdir, "nope.toml"))
			So(err, ShouldNotBeNil)
		})
	})
}
