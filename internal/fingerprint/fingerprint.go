// Package fingerprint computes stable canonical encodings and content digests
// for table cells and whole tables.
//
// Canonicalization rules:
//   - nil encodes as a single NUL byte (0x00) so missing differs from "".
//   - Common scalar types are converted without fmt.Sprint.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Digests are lowercase hex SHA-256 strings (length 64).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loanetl/internal/dataset"
)

const (
	cellSep = "\x1f"
	rowSep  = "\x1e"
)

// Canonical returns the canonical string form of a single cell.
//
// The star-schema builder uses it as the de-duplication key, so two cells with
// the same Canonical value map to the same surrogate key.
func Canonical(v any) string {
	var b strings.Builder
	appendCanonicalValue(&b, v)
	return b.String()
}

// Table returns a SHA-256 digest over the table's columns and rows in order.
// The table name is not part of the digest.
func Table(t *dataset.Table) string {
	h := sha256.New()
	if t == nil {
		return hex.EncodeToString(h.Sum(nil))
	}

	var b strings.Builder
	b.Grow(len(t.Columns) * 16)
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(cellSep)
		}
		b.WriteString(c)
	}
	b.WriteString(rowSep)
	_, _ = h.Write([]byte(b.String()))

	for _, row := range t.Rows {
		b.Reset()
		for i, v := range row {
			if i > 0 {
				b.WriteString(cellSep)
			}
			appendCanonicalValue(&b, v)
		}
		b.WriteString(rowSep)
		_, _ = h.Write([]byte(b.String()))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// appendCanonicalValue appends a stable, canonical representation of v.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')

	case string:
		b.WriteString(t)
	case []byte:
		b.Write(t)

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case int:
		b.WriteString(strconv.Itoa(t))
	case int32:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))

	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		b.WriteString(fmt.Sprint(t))
	}
}
