package transform

import (
	"encoding/hex"
	"strings"

	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// IsBinaryColumn reports whether a column name matches the binary marker rule:
// it ends with suffix or is one of the named binary columns.
func IsBinaryColumn(column, suffix string, names []string) bool {
	if suffix != "" && strings.HasSuffix(column, suffix) {
		return true
	}
	for _, name := range names {
		if column == name {
			return true
		}
	}
	return false
}

// Describe builds the descriptor for a table from its spec, the plan's binary rule
// and the column list read from the source.
func Describe(spec models.TableSpec, plan models.Plan, columns []string) models.TableDescriptor {
	desc := models.TableDescriptor{
		Name:           spec.Name,
		Columns:        columns,
		BooleanColumns: make(map[string]bool, len(spec.BooleanColumns)),
		BinaryColumns:  make(map[string]bool),
	}
	for _, col := range spec.BooleanColumns {
		desc.BooleanColumns[col] = true
	}
	if spec.HexBinary {
		for _, col := range columns {
			if IsBinaryColumn(col, plan.BinarySuffix, plan.BinaryNames) {
				desc.BinaryColumns[col] = true
			}
		}
	}
	return desc
}

// Rules applies a descriptor's column rules to source rows
type Rules struct {
	booleans  []bool
	binaries  []bool
	hexPrefix string
}

// NewRules resolves the descriptor's column sets to positions in its column list
func NewRules(desc models.TableDescriptor, hexPrefix string) *Rules {
	r := &Rules{
		booleans:  make([]bool, len(desc.Columns)),
		binaries:  make([]bool, len(desc.Columns)),
		hexPrefix: hexPrefix,
	}
	for i, col := range desc.Columns {
		r.booleans[i] = desc.BooleanColumns[col]
		r.binaries[i] = desc.BinaryColumns[col]
	}
	return r
}

// ForCopy returns a transformed copy of row for the COPY path.
// Boolean columns become the literals "true"/"false", binary columns become lowercase hex.
func (r *Rules) ForCopy(row []interface{}) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
		if i >= len(r.booleans) {
			continue
		}
		if r.booleans[i] {
			if b, ok := intBool(v); ok {
				if b {
					out[i] = "true"
				} else {
					out[i] = "false"
				}
			}
			continue
		}
		if r.binaries[i] {
			if raw, ok := v.([]byte); ok {
				out[i] = r.hexPrefix + hex.EncodeToString(raw)
			}
		}
	}
	return out
}

// ForInsert returns a transformed copy of row for the row-by-row path.
// Boolean columns become native bools; binary payloads are left for the driver to encode.
func (r *Rules) ForInsert(row []interface{}) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
		if i < len(r.booleans) && r.booleans[i] {
			if b, ok := intBool(v); ok {
				out[i] = b
			}
		}
	}
	return out
}

// intBool maps integer 0 and 1 to false and true. Any other value is not a boolean.
func intBool(v interface{}) (bool, bool) {
	var n int64
	switch t := v.(type) {
	case int64:
		n = t
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int16:
		n = int64(t)
	case int8:
		n = int64(t)
	case uint8:
		n = int64(t)
	default:
		return false, false
	}
	switch n {
	case 0:
		return false, true
	case 1:
		return true, true
	}
	return false, false
}
