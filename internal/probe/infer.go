package probe

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// columnStats accumulates "every value so far parses as X" flags for one
// column.
type columnStats struct {
	seen     int
	distinct map[string]struct{}
	opaque   bool

	allInt, allFloat, allPercent, allBool, allDate, allTS bool

	dateLayouts map[string]int
	tsLayouts   map[string]int
}

func newColumnStats() *columnStats {
	return &columnStats{
		distinct:    make(map[string]struct{}),
		allInt:      true,
		allFloat:    true,
		allPercent:  true,
		allBool:     true,
		allDate:     true,
		allTS:       true,
		dateLayouts: make(map[string]int),
		tsLayouts:   make(map[string]int),
	}
}

func (s *columnStats) noneText() {
	s.allPercent = false
	s.allBool = false
	s.allDate = false
	s.allTS = false
}

func (s *columnStats) observe(v any) {
	s.seen++

	switch t := v.(type) {
	case int64, int, int32:
		s.distinct[cast.ToString(t)] = struct{}{}
		s.noneText()
		return
	case float64:
		s.distinct[strconv.FormatFloat(t, 'g', -1, 64)] = struct{}{}
		s.allInt = false
		s.noneText()
		return
	case time.Time:
		s.distinct[t.UTC().Format(time.RFC3339Nano)] = struct{}{}
		s.allInt, s.allFloat, s.allPercent, s.allBool = false, false, false, false
		if t.Equal(t.Truncate(24 * time.Hour)) {
			s.allTS = false
			s.dateLayouts[time.DateOnly]++
		} else {
			s.allDate = false
			s.tsLayouts[time.RFC3339]++
		}
		return
	}

	str, err := cast.ToStringE(v)
	if err != nil {
		// Not a scalar we understand; nothing but text can describe it.
		s.opaque = true
		s.allInt, s.allFloat = false, false
		s.noneText()
		return
	}
	str = strings.TrimSpace(str)
	s.distinct[str] = struct{}{}

	if s.allInt {
		if _, err := strconv.ParseInt(str, 10, 64); err != nil {
			s.allInt = false
		}
	}
	if s.allFloat {
		if _, err := strconv.ParseFloat(str, 64); err != nil {
			s.allFloat = false
		}
	}
	if s.allPercent {
		if !isPercent(str) {
			s.allPercent = false
		}
	}
	if s.allBool {
		if _, ok := parseBoolLoose(str); !ok {
			s.allBool = false
		}
	}
	if s.allDate {
		if _, lay, ok := parseDateLoose(str); ok {
			s.dateLayouts[lay]++
		} else {
			s.allDate = false
		}
	}
	if s.allTS {
		if _, lay, ok := parseTimestampLoose(str); ok {
			s.tsLayouts[lay]++
		} else {
			s.allTS = false
		}
	}
}

// guessColumn infers a kind for one column. More specific kinds win.
func guessColumn(name string, rows [][]any, col int, opt Options) Guess {
	s := newColumnStats()
	for _, r := range rows {
		if col >= len(r) || r[col] == nil {
			continue
		}
		s.observe(r[col])
	}

	if s.seen == 0 {
		return Guess{Kind: KindUnknown}
	}

	switch {
	case s.opaque:
		return Guess{Kind: KindText}
	case s.allInt && looksLikeIdentifier(name, s):
		return Guess{Kind: KindIdentifier}
	case s.allInt:
		return Guess{Kind: KindInteger}
	case s.allBool:
		return Guess{Kind: KindBoolean}
	case s.allDate:
		return Guess{Kind: KindDate, Layout: majorityLayout(s.dateLayouts)}
	case s.allTS:
		return Guess{Kind: KindTimestamp, Layout: majorityLayout(s.tsLayouts)}
	case s.allFloat:
		return Guess{Kind: KindFloat}
	case s.allPercent:
		return Guess{Kind: KindPercent}
	case len(s.distinct) <= opt.CategoricalMaxDistinct || len(s.distinct)*20 <= s.seen:
		return Guess{Kind: KindCategorical}
	default:
		return Guess{Kind: KindText}
	}
}

// identifierMinRows is the smallest sample where "every value distinct" is
// taken as evidence of a key column.
const identifierMinRows = 50

func looksLikeIdentifier(name string, s *columnStats) bool {
	n := strings.ToLower(name)
	if n == "id" || strings.HasSuffix(n, "_id") {
		return true
	}
	return s.seen >= identifierMinRows && len(s.distinct) == s.seen
}

func majorityLayout(counts map[string]int) string {
	best := ""
	bestN := 0
	for lay, n := range counts {
		if n > bestN || (n == bestN && lay < best) {
			best = lay
			bestN = n
		}
	}
	return best
}

func isPercent(s string) bool {
	if !strings.HasSuffix(s, "%") {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	return err == nil
}

func parseBoolLoose(s string) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"Jan-2006",
	"Jan-06",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"1/2/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
}

func parseDateLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}

func parseTimestampLoose(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range tsLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, lay, true
		}
	}
	return time.Time{}, "", false
}
