// Package datefilter restricts loan rows to the expected issue-date window.
//
// Issue dates arrive as month-year text ("Dec-2011") or as full dates. Rows
// whose date cannot be parsed, or lies outside the window, are excluded. Kept
// rows carry the parsed time.Time (UTC) in place of the original text.
package datefilter

import (
	"strings"
	"time"

	"loanetl/internal/dataset"
)

// DefaultColumn is the issue-date column of the loan export.
const DefaultColumn = "issue_d"

// Window is an inclusive range of UTC calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the UTC day of t lies in [Start, End]. Any time of
// day on the End date is inside the window.
func (w Window) Contains(t time.Time) bool {
	d := utcDay(t)
	return !d.Before(utcDay(w.Start)) && !d.After(utcDay(w.End))
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DefaultWindow is the accepted issue-date range: from the first public loan
// listings to the end of the last export year.
var DefaultWindow = Window{
	Start: time.Date(2007, time.June, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2018, time.December, 31, 0, 0, 0, 0, time.UTC),
}

// DefaultLayouts are tried in order when parsing text dates.
var DefaultLayouts = []string{
	"Jan-2006",
	"Jan-06",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
}

// Options configure Filter. Zero values select the defaults.
type Options struct {
	Column  string
	Window  *Window
	Layouts []string
}

func (o Options) withDefaults() Options {
	if o.Column == "" {
		o.Column = DefaultColumn
	}
	if o.Window == nil {
		w := DefaultWindow
		o.Window = &w
	}
	if len(o.Layouts) == 0 {
		o.Layouts = DefaultLayouts
	}
	return o
}

// Report counts what Filter kept and why it dropped the rest.
type Report struct {
	Kept        int
	Unparseable int
	OutOfWindow int
}

// Filter returns the rows of t whose date column lies inside the window.
//
// Whether the stage runs at all is the caller's decision; if the column is
// absent Filter returns a copy of t unchanged.
func Filter(t *dataset.Table, opt Options) (*dataset.Table, Report) {
	opt = opt.withDefaults()

	col := t.Lookup(opt.Column)
	if !col.Present() {
		out := t.Clone()
		return out, Report{Kept: out.Len()}
	}
	ci := col.Index()

	var rep Report
	out := dataset.New(t.Name, t.Columns)
	out.Rows = make([][]any, 0, t.Len())
	for _, row := range t.Rows {
		d, ok := ParseDate(row[ci], opt.Layouts)
		if !ok {
			rep.Unparseable++
			continue
		}
		if !opt.Window.Contains(d) {
			rep.OutOfWindow++
			continue
		}
		nr := append([]any(nil), row...)
		nr[ci] = d
		out.Rows = append(out.Rows, nr)
	}
	rep.Kept = out.Len()
	return out, rep
}

// ParseDate converts a cell to a UTC time. time.Time cells pass through;
// strings are tried against layouts in order.
func ParseDate(v any, layouts []string) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, lay := range layouts {
			if d, err := time.Parse(lay, s); err == nil {
				return d.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
