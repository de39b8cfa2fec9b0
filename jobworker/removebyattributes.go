package jobworker

import (
	"context"
	"sort"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/config"
	"github.com/domonda/golog"
)

// removeByAttributes deletes all rows of the target table of layer
// matching any of the attribute sets of job.
func (w *Worker) removeByAttributes(ctx context.Context, log *golog.Logger, job *layersync.Job, layer *config.Layer) (stats layersync.Statistics, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job, layer)

	if !layer.AllowFeatureDeletion {
		return stats, workerErrorf("Feature deletion is not allowed for layer %q", layer.Name)
	}
	attributeSets := job.AttributeSets()
	if len(attributeSets) == 0 {
		return stats, workerErrorf("No attribute sets given")
	}

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err != nil {
			tx.Discard()
		}
		e := tx.Close(ctx)
		if e != nil && err == nil {
			err = e
		}
	}()

	fields, err := tx.GetTableFields(ctx, layer.TargetTableSchema, layer.TargetTableName)
	if err != nil {
		return stats, err
	}
	quotedTarget, err := tx.QuoteAndJoinIdent(ctx, ".", layer.TargetTableSchema, layer.TargetTableName)
	if err != nil {
		return stats, err
	}

	var (
		sets = make([][]string, len(attributeSets))
		args []any
	)
	for i, set := range attributeSets {
		if len(set) == 0 {
			return stats, workerErrorf("Attribute set %d is empty", i)
		}
		columns := make([]string, 0, len(set))
		for col := range set {
			if _, ok := fields[col]; !ok {
				return stats, workerErrorf("Column %q does not exist in table %s.%s",
					col, layer.TargetTableSchema, layer.TargetTableName)
			}
			columns = append(columns, col)
		}
		sort.Strings(columns)
		for _, col := range columns {
			if value := set[col]; value != nil {
				args = append(args, *value)
			} else {
				args = append(args, nil)
			}
		}
		sets[i], err = tx.QuoteIdents(ctx, columns...)
		if err != nil {
			return stats, err
		}
	}

	n, err := tx.ExecParams(ctx, removeByAttributesSQL(quotedTarget, sets), args...)
	if err != nil {
		return stats, err
	}
	stats.NumDeleted = int(n)

	log.Debug("Removed rows by attributes").
		Int("numAttributeSets", len(attributeSets)).
		Int("numDeleted", stats.NumDeleted).
		Log()
	return stats, nil
}
