package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// DefaultNullMarker is written for NULL values so that empty strings stay distinct
const DefaultNullMarker = `\N`

// pgTimestamp is accepted by PostgreSQL for both timestamp and timestamptz columns
const pgTimestamp = "2006-01-02 15:04:05.999999Z07:00"

// CopyBuffer accumulates a header line and transformed rows as CSV for COPY FROM STDIN
type CopyBuffer struct {
	buf        bytes.Buffer
	w          *csv.Writer
	nullMarker string
	record     []string
	rows       int
}

// NewCopyBuffer starts a buffer whose first line names the given columns
func NewCopyBuffer(columns []string, nullMarker string) (*CopyBuffer, error) {
	if nullMarker == "" {
		nullMarker = DefaultNullMarker
	}
	cb := &CopyBuffer{nullMarker: nullMarker, record: make([]string, len(columns))}
	cb.w = csv.NewWriter(&cb.buf)
	if err := cb.w.Write(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return cb, nil
}

// Append encodes one row. The row must have one value per header column.
func (cb *CopyBuffer) Append(row []interface{}) error {
	if len(row) != len(cb.record) {
		return fmt.Errorf("row %d has %d values, want %d", cb.rows+1, len(row), len(cb.record))
	}
	for i, v := range row {
		cb.record[i] = cb.Field(v)
	}
	if err := cb.w.Write(cb.record); err != nil {
		return fmt.Errorf("write row %d: %w", cb.rows+1, err)
	}
	cb.rows++
	return nil
}

// Rows returns the number of data rows appended so far
func (cb *CopyBuffer) Rows() int { return cb.rows }

// Bytes flushes the writer and returns the encoded CSV
func (cb *CopyBuffer) Bytes() ([]byte, error) {
	cb.w.Flush()
	if err := cb.w.Error(); err != nil {
		return nil, err
	}
	return cb.buf.Bytes(), nil
}

// Field renders a single value as CSV field text
func (cb *CopyBuffer) Field(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return cb.nullMarker
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(pgTimestamp)
	default:
		return fmt.Sprint(t)
	}
}
