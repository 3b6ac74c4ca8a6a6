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

// Command ntp-scan runs one scan of a Netztransparenz table and prints the
// rows or a summary of their numeric columns.
//
// Example:
//
//	ntp-scan -conf config.toml -table renewable_energy_timeseries \
//	  -filter product_type=solar -filter 'timestamp_utc>=2024-10-20' \
//	  -filter 'timestamp_utc<2024-10-21'
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/config"
	"github.com/stockparfait/netztransparenz/plan"
	"github.com/stockparfait/netztransparenz/scan"
	"github.com/stockparfait/netztransparenz/schema"
	"github.com/stockparfait/netztransparenz/stats"
	"github.com/stockparfait/netztransparenz/table"
)

// filters is a repeatable string flag.
type filters []string

func (f *filters) String() string { return strings.Join(*f, "; ") }

func (f *filters) Set(s string) error {
	*f = append(*f, s)
	return nil
}

type Flags struct {
	LogLevel logging.Level
	Config   string // config file
	Table    string
	Filters  []string
	Columns  []string // projection; default: all
	Rows     int      // max. rows to print; 0 = all
	Summary  bool     // print column statistics instead of rows
	CSV      bool     // dump CSV format; default: text.
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	var fl filters
	var columns string
	fs := flag.NewFlagSet("ntp-scan", flag.ExitOnError)
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.StringVar(&flags.Config, "conf", "", "TOML config file (required)")
	fs.StringVar(&flags.Table, "table", "", "table to scan: "+strings.Join(schema.TableNames(), ", "))
	fs.Var(&fl, "filter", "filter such as 'timestamp_utc>=2024-10-20'; repeatable")
	fs.StringVar(&columns, "columns", "", "comma separated columns to print; default: all")
	fs.IntVar(&flags.Rows, "rows", 0, "max. number of rows to print; 0 = all")
	fs.BoolVar(&flags.Summary, "summary", false, "print statistics of numeric columns")
	fs.BoolVar(&flags.CSV, "csv", false, "print table in CSV format; default: text")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	if flags.Config == "" {
		return nil, errors.Reason("missing required -conf argument")
	}
	if flags.Table == "" {
		return nil, errors.Reason("missing required -table argument")
	}
	flags.Filters = fl
	for _, c := range strings.Split(columns, ",") {
		if c = strings.TrimSpace(c); c != "" {
			flags.Columns = append(flags.Columns, c)
		}
	}
	return &flags, nil
}

// scanRows runs the scan and returns the table declaration of the rows and
// the rows themselves.
func scanRows(ctx context.Context, flags *Flags) (*schema.Table, *table.Table, error) {
	opts, err := config.Load(flags.Config)
	if err != nil {
		return nil, nil, errors.Annotate(err, "failed to read config '%s'", flags.Config)
	}
	t, err := schema.Lookup(schema.TableName(flags.Table))
	if err != nil {
		return nil, nil, err
	}
	var preds []plan.Predicate
	for _, f := range flags.Filters {
		p, err := plan.ParsePredicate(t, f)
		if err != nil {
			return nil, nil, errors.Annotate(err, "bad -filter")
		}
		preds = append(preds, p)
	}
	p := scan.FromOptions(opts, nil)
	h, err := p.Begin(ctx, t.Name, preds, flags.Columns)
	if err != nil {
		return nil, nil, errors.Annotate(err, "failed to scan %s", t.Name)
	}
	defer p.End(h)

	view, err := p.View(h)
	if err != nil {
		return nil, nil, err
	}
	tbl := table.FromSchema(view)
	next := func() (schema.Row, bool, error) { return p.Next(h) }
	n, err := table.Collect(tbl, next, flags.Rows)
	if err != nil {
		return nil, nil, err
	}
	logging.Infof(ctx, "%s: %d rows", t.Name, n)
	return view, tbl, nil
}

func printData(ctx context.Context, flags *Flags, w io.Writer) error {
	view, tbl, err := scanRows(ctx, flags)
	if err != nil {
		return err
	}
	params := table.Params{Null: "NULL"}
	if flags.Summary {
		rows := make([]schema.Row, len(tbl.Rows))
		for i, r := range tbl.Rows {
			rows[i] = r.(schema.Row)
		}
		summaries := stats.Summarize(view, rows)
		tbl = table.NewTable(stats.Header()...)
		tbl.Align = []table.Align{table.Left}
		for _, s := range summaries {
			tbl.AddRow(s)
		}
		params.Null = ""
	}
	if flags.CSV {
		if err := tbl.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
		return nil
	}
	if err := tbl.WriteText(w, params); err != nil {
		return errors.Annotate(err, "failed to print text")
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := printData(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
