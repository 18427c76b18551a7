package migrator

import (
	"context"
	"fmt"

	"github.com/vitebski/recorder-pg-migrator/pkg/models"
)

// ResetSequences resets the primary key sequence of every plan table, in plan order.
// It must run after all loads have committed.
func (tm *TableMigrator) ResetSequences(ctx context.Context) []models.SequenceResult {
	tm.Logger.Info("Resetting primary key sequences")
	results := make([]models.SequenceResult, 0, len(tm.Plan.Tables))
	for _, spec := range tm.Plan.Tables {
		results = append(results, tm.ResetSequence(ctx, spec.Name))
	}
	return results
}

// ResetSequence sets a table's primary key sequence so the next generated key is
// MAX(pk)+1. Empty tables and tables whose key is not a single integer column are
// left untouched. Errors only affect this table's result.
func (tm *TableMigrator) ResetSequence(ctx context.Context, table string) models.SequenceResult {
	log := tm.Logger.WithField("table", table)
	result := models.SequenceResult{Table: table}

	keys, err := tm.Destination.PrimaryKeys(ctx, table)
	if err != nil {
		result.Error = err.Error()
		log.Errorf("Could not look up primary key: %v", err)
		return result
	}
	switch len(keys) {
	case 0:
		result.Skipped = "no primary key"
		log.Debug("No primary key, sequence left untouched")
		return result
	case 1:
	default:
		result.Skipped = "composite primary key"
		log.Debug("Composite primary key, sequence left untouched")
		return result
	}
	result.PrimaryKey = keys[0]

	max, err := tm.Destination.MaxValue(ctx, table, result.PrimaryKey)
	if err != nil {
		result.Error = err.Error()
		log.Errorf("Could not read maximum %s: %v", result.PrimaryKey, err)
		return result
	}
	result.MaxValue = max
	if max == nil {
		result.Skipped = "table is empty"
		log.Debug("Table is empty, sequence left untouched")
		return result
	}
	n, ok := integerValue(max)
	if !ok {
		result.Skipped = fmt.Sprintf("primary key value %v is not an integer", max)
		log.Debugf("Primary key %s is not an integer, sequence left untouched", result.PrimaryKey)
		return result
	}

	result.NextValue = n + 1
	reset, err := tm.Destination.ResetSequence(ctx, table, result.PrimaryKey, result.NextValue)
	if err != nil {
		result.Error = err.Error()
		log.Errorf("Could not reset sequence: %v", err)
		return result
	}
	if !reset {
		result.Skipped = "no sequence owned by " + result.PrimaryKey
		log.Debugf("No sequence owned by %s", result.PrimaryKey)
		return result
	}

	result.Reset = true
	log.Infof("Sequence for %s reset, next value %d", result.PrimaryKey, result.NextValue)
	return result
}

func integerValue(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case int:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint8:
		return int64(t), true
	}
	return 0, false
}
