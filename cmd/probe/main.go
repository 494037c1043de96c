// Command probe prints the guessed column types of a loan CSV.
//
// It runs the same loader and type guesser as cmd/etl, but stops there, which
// makes it the quickest way to see how a new export will be read:
//
//	probe -data data/LoanStats_web_small.csv
//	probe -data export.csv -encoding windows-1252 -json
//
// Text mode prints one "column,type,layout" line per column. JSON mode prints
// an object with the same content for scripts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	csvparser "loanetl/internal/parser/csv"
	"loanetl/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type jsonColumn struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Layout string `json:"layout,omitempty"`
}

type jsonReport struct {
	Rows        int          `json:"rows"`
	SampledRows int          `json:"sampled_rows"`
	Success     bool         `json:"success"`
	Columns     []jsonColumn `json:"columns"`
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dataFile    = fs.String("data", "", "CSV path to inspect")
		encoding    = fs.String("encoding", "", "source character set, e.g. windows-1252 (default UTF-8)")
		rows        = fs.Int("rows", 1000, "number of rows sampled per column")
		maxDistinct = fs.Int("max-distinct", 20, "distinct-value ceiling for categorical text columns")
		asJSON      = fs.Bool("json", false, "emit JSON instead of text")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*dataFile) == "" {
		fmt.Fprintln(stderr, "missing -data")
		fs.Usage()
		return 2
	}

	// Probing is interactive; fail fast on a stuck network mount.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t, err := csvparser.LoadFile(ctx, *dataFile, csvparser.Options{Encoding: *encoding})
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	rep := probe.GuessColumnTypes(t, probe.Options{SampleRows: *rows, CategoricalMaxDistinct: *maxDistinct})

	if !*asJSON {
		fmt.Fprintf(stdout, "rows=%d ", t.Len())
		fmt.Fprint(stdout, rep.String())
		return 0
	}

	out := jsonReport{Rows: t.Len(), SampledRows: rep.SampledRows, Success: rep.Success}
	for _, c := range rep.Columns {
		out.Columns = append(out.Columns, jsonColumn{Name: c.Name, Kind: c.Guess.Kind.String(), Layout: c.Guess.Layout})
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "probe: encode: %v\n", err)
		return 1
	}
	return 0
}
