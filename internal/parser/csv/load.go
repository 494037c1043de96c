// Package csv loads a delimited text file with a header row into a
// dataset.Table.
//
// Loading mirrors the defaults of a dataframe CSV reader: header names are
// normalized, well-known NA tokens become missing cells, and columns whose
// values are all numeric are converted to int64 or float64.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"loanetl/internal/dataset"
)

// DefaultNATokens are the cell values treated as missing when Options.NATokens
// is empty.
var DefaultNATokens = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a",
	"nan", "null",
}

// Options control parsing.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// Encoding names the source character set ("windows-1252", "latin1", ...).
	// Empty or "utf-8" reads the bytes as-is.
	Encoding string
	// LazyQuotes relaxes quote handling for sloppy exports.
	LazyQuotes bool
	// NATokens overrides DefaultNATokens.
	NATokens []string
	// KeepStrings disables numeric column conversion.
	KeepStrings bool
}

// LoadFile opens path and loads it with Load.
func LoadFile(ctx context.Context, path string, opt Options) (*dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	return Load(ctx, f, opt)
}

// Load reads all records from src and closes it.
//
// The first record is the header. Records shorter than the header are padded
// with missing cells; records longer than the header are an error. The table
// name is left empty for the caller to set.
func Load(ctx context.Context, src io.ReadCloser, opt Options) (*dataset.Table, error) {
	defer src.Close()

	r, err := decodeReader(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	na := opt.NATokens
	if len(na) == 0 {
		na = DefaultNATokens
	}
	naSet := make(map[string]struct{}, len(na))
	for _, tok := range na {
		naSet[tok] = struct{}{}
	}

	line := 1
	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty input: no header row")
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	columns := normalizeHeader(hdr)

	t := dataset.New("", columns)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		if len(rec) > len(columns) {
			return nil, fmt.Errorf("csv: line %d: expected %d fields, saw %d", line, len(columns), len(rec))
		}

		row := make([]any, len(columns))
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if _, missing := naSet[v]; missing {
				continue
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}

	if !opt.KeepStrings {
		coerceNumericColumns(t)
	}
	return t, nil
}

// normalizeHeader trims, strips a UTF-8 BOM, lower-cases, and replaces spaces
// with underscores. Duplicate names get a ".N" suffix.
func normalizeHeader(hdr []string) []string {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
		if n, dup := seen[h]; dup {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n+1)
		} else {
			seen[h] = 0
		}
		out[i] = h
	}
	return out
}

// coerceNumericColumns converts every column whose non-missing cells all parse
// as numbers. A column of integers becomes int64 unless it has missing cells,
// in which case it becomes float64 (a missing integer cannot be represented).
func coerceNumericColumns(t *dataset.Table) {
	for c := range t.Columns {
		allInt, allFloat, seen, hasMissing := true, true, false, false
		for _, row := range t.Rows {
			s, ok := row[c].(string)
			if !ok {
				hasMissing = true
				continue
			}
			seen = true
			if allInt {
				if _, err := strconv.ParseInt(s, 10, 64); err != nil {
					allInt = false
				}
			}
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				allFloat = false
				break
			}
		}
		if !seen || !allFloat {
			continue
		}

		asInt := allInt && !hasMissing
		for _, row := range t.Rows {
			s, ok := row[c].(string)
			if !ok {
				continue
			}
			if asInt {
				n, _ := strconv.ParseInt(s, 10, 64)
				row[c] = n
			} else {
				f, _ := strconv.ParseFloat(s, 64)
				row[c] = f
			}
		}
	}
}

func decodeReader(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("csv: unsupported encoding %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
