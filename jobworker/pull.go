package jobworker

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/config"
	"github.com/domonda/go-layersync/jobworkerdb"
	"github.com/domonda/go-layersync/source"
	"github.com/domonda/golog"
)

// progressInterval is the number of features
// between two updates of the job statistics.
const progressInterval = 1000

// combineFilters ANDs the layer and the job filter.
func combineFilters(layerFilter, jobFilter string) string {
	layerFilter = strings.TrimSpace(layerFilter)
	jobFilter = strings.TrimSpace(jobFilter)
	switch {
	case layerFilter == "":
		return jobFilter
	case jobFilter == "":
		return layerFilter
	}
	return "(" + layerFilter + ") AND (" + jobFilter + ")"
}

// tempTableName returns a temp table name unique for a job.
func tempTableName(job *layersync.Job) string {
	return "layersync_" + strings.ReplaceAll(job.ID().String(), "-", "")
}

// openSourceLayer opens the source layer of layer
// and describes a missing layer with a suggestion.
func (w *Worker) openSourceLayer(ctx context.Context, layer *config.Layer) (source.Dataset, source.Layer, error) {
	dataset, err := w.opts.Drivers.Open(ctx, layer.Source)
	if err != nil {
		return nil, nil, workerErrorf("Can't open source of layer %q: %s", layer.Name, errHeadline(err))
	}
	srcLayer, err := dataset.Layer(ctx, layer.SourceLayer)
	if err == nil {
		return dataset, srcLayer, nil
	}
	readable, unreadableNames := dataset.LayerNames()
	dataset.Close()

	var unreadable *source.UnreadableLayerError
	switch {
	case errors.As(err, &unreadable):
		return nil, nil, workerErrorf("Source layer %q can't be read: %s", layer.SourceLayer, unreadable.Reason)
	case errors.Is(err, source.ErrLayerNotFound):
		return nil, nil, workerErrorf("%s", source.LayerNotFoundMessage(layer.SourceLayer, readable, unreadableNames))
	}
	return nil, nil, workerErrorf("Can't read source layer %q: %s", layer.SourceLayer, errHeadline(err))
}

// resolvePrimaryKey returns the primary key columns of the target table
// or the overriding columns configured for the layer.
func resolvePrimaryKey(layer *config.Layer, fields jobworkerdb.FieldMap) ([]string, error) {
	if len(layer.PrimaryKeyColumns) == 0 {
		pk := fields.PrimaryKey()
		if len(pk) == 0 {
			return nil, workerErrorf("Table %s.%s has no primary key and layer %q defines no primary_key_columns",
				layer.TargetTableSchema, layer.TargetTableName, layer.Name)
		}
		return pk, nil
	}
	for _, col := range layer.PrimaryKeyColumns {
		if _, ok := fields[col]; !ok {
			return nil, workerErrorf("Primary key column %q of layer %q does not exist in table %s.%s",
				col, layer.Name, layer.TargetTableSchema, layer.TargetTableName)
		}
	}
	return layer.PrimaryKeyColumns, nil
}

// insertColumn is a target column filled from the source.
type insertColumn struct {
	field jobworkerdb.Field
	// sourceIndex is the index of the source field
	// or -1 for the geometry column.
	sourceIndex int
	sourceType  source.FieldType
}

func (w *Worker) pull(ctx context.Context, log *golog.Logger, job *layersync.Job, layer *config.Layer) (stats layersync.Statistics, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, job, layer)

	filter := combineFilters(layer.Filter, job.Filter())
	allowDeletion := layer.AllowFeatureDeletion && filter == ""

	job.SetMessage("opening source")
	dataset, srcLayer, err := w.openSourceLayer(ctx, layer)
	if err != nil {
		return stats, err
	}
	defer dataset.Close()

	err = srcLayer.SetAttributeFilter(ctx, filter)
	if err != nil {
		return stats, workerErrorf("Invalid filter: %s", err)
	}

	srcFields := srcLayer.Fields()
	srcIndex := make(map[string]int, len(srcFields))
	for i, f := range srcFields {
		srcIndex[strings.ToLower(f.Name)] = i
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

	err = tx.SetDateStyleISO(ctx)
	if err != nil {
		return stats, err
	}
	temp, err := tx.CreateTempTable(ctx, layer.TargetTableSchema, layer.TargetTableName, tempTableName(job))
	if err != nil {
		return stats, err
	}
	fields, err := tx.GetTableFields(ctx, layer.TargetTableSchema, layer.TargetTableName)
	if err != nil {
		return stats, err
	}
	geometryFields := fields.GeometryFields()
	if len(geometryFields) > 1 {
		return stats, workerErrorf("Table %s.%s has %d geometry columns, at most one is supported",
			layer.TargetTableSchema, layer.TargetTableName, len(geometryFields))
	}
	primaryKey, err := resolvePrimaryKey(layer, fields)
	if err != nil {
		return stats, err
	}
	for _, col := range primaryKey {
		if _, ok := srcIndex[strings.ToLower(col)]; !ok {
			return stats, workerErrorf("Source layer %q has no field for the primary key column %q", layer.SourceLayer, col)
		}
	}
	isPrimaryKey := make(map[string]bool, len(primaryKey))
	for _, col := range primaryKey {
		isPrimaryKey[col] = true
	}

	// Target columns filled from the source in table order
	var columns []insertColumn
	for _, f := range fields.Sorted() {
		if f.IsGeometry() {
			columns = append(columns, insertColumn{field: f, sourceIndex: -1})
			continue
		}
		i, ok := srcIndex[strings.ToLower(f.Name)]
		if !ok {
			continue
		}
		columns = append(columns, insertColumn{field: f, sourceIndex: i, sourceType: srcFields[i].Type})
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.field.Name
	}
	quoted, err := tx.QuoteIdents(ctx, names...)
	if err != nil {
		return stats, err
	}
	quotedTarget, err := tx.QuoteAndJoinIdent(ctx, ".", layer.TargetTableSchema, layer.TargetTableName)
	if err != nil {
		return stats, err
	}

	m := &merge{target: quotedTarget, temp: temp}
	exprs := make([]string, len(columns))
	for i, c := range columns {
		param := "$" + strconv.Itoa(i+1)
		switch {
		case c.sourceIndex < 0:
			mode, columnSRID, undefinedSRID, err := geometryColumnMode(ctx, tx, layer, c.field.Name)
			if err != nil {
				return stats, err
			}
			log.Debug("Geometry column").
				Str("column", c.field.Name).
				Int("mode", int(mode)).
				Int("srid", columnSRID).
				Log()
			exprs[i] = geometryExpr(mode, param, columnSRID, undefinedSRID)
			m.geometry = quoted[i]
		default:
			exprs[i] = "(" + param + "::" + sourceParamSQLType(c.sourceType, c.field.PgType) + ")::" + c.field.PgType
			if isPrimaryKey[c.field.Name] {
				m.primaryKey = append(m.primaryKey, quoted[i])
			} else {
				m.columns = append(m.columns, quoted[i])
			}
		}
	}

	const stmtName = "layersync_insert_feature"
	err = tx.Prepare(ctx, stmtName, insertStatement(temp, quoted, exprs))
	if err != nil {
		return stats, err
	}

	job.SetMessage("pulling features")
	args := make([]any, len(columns))
	err = iterateSource(ctx, srcLayer, layer.SourceLayer, func(feature *source.Feature) error {
		for i, c := range columns {
			if c.sourceIndex < 0 {
				args[i] = geometryParam(feature.Geometry)
			} else {
				args[i] = fieldParam(feature.Values[c.sourceIndex], c.sourceType)
			}
		}
		stats.NumPulled++

		if layer.IgnoreFailures {
			_, err := tx.ExecIsolated(ctx, stmtName, args...)
			if err != nil {
				if !jobworkerdb.IsDataException(err) {
					return err
				}
				stats.NumIgnored++
				log.Debug("Ignoring feature").
					Int("fid", int(feature.FID)).
					Err(err).
					Log()
			}
		} else {
			_, err := tx.ExecPrepared(ctx, stmtName, args...)
			if err != nil {
				return err
			}
		}

		if stats.NumPulled%progressInterval == 0 {
			pulled, ignored := stats.NumPulled, stats.NumIgnored
			job.UpdateStatistics(func(s *layersync.Statistics) {
				s.NumPulled = pulled
				s.NumIgnored = ignored
			})
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	job.UpdateStatistics(func(s *layersync.Statistics) { *s = stats })

	job.SetMessage("merging features")
	if useBulkReplace(layer, allowDeletion) {
		err = bulkReplace(ctx, tx, layer, m, &stats)
	} else {
		if layer.BulkMode {
			log.Info("Bulk mode needs feature deletion, merging incrementally").
				Bool("allowFeatureDeletion", layer.AllowFeatureDeletion).
				Str("filter", filter).
				Log()
		}
		err = incrementalMerge(ctx, tx, m, allowDeletion, &stats)
	}
	return stats, err
}

// useBulkReplace returns true if the target rows of layer
// can be replaced instead of merged.
// Replacing deletes every target row, so it requires
// that the pull is allowed to delete features.
func useBulkReplace(layer *config.Layer, allowDeletion bool) bool {
	return layer.BulkMode && allowDeletion
}

// iterateSource calls fn for every feature of srcLayer.
// Errors returned by fn are returned unchanged,
// errors reading the source are returned as WorkerError
// because they fail the job but not the worker.
func iterateSource(ctx context.Context, srcLayer source.Layer, layerName string, fn func(*source.Feature) error) error {
	var fnErr error
	err := srcLayer.Iterate(ctx, func(feature *source.Feature) error {
		fnErr = fn(feature)
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case ctx.Err() != nil:
		return err
	}
	return workerErrorf("Can't read source layer %q: %s", layerName, errHeadline(err))
}

// geometryColumnMode returns how geometries are inserted into column.
func geometryColumnMode(ctx context.Context, tx *jobworkerdb.Transaction, layer *config.Layer, column string) (mode geometryMode, columnSRID, undefinedSRID int, err error) {
	version, err := tx.PostGISVersion(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	undefinedSRID = jobworkerdb.UndefinedSRID(version)
	columnSRID, err = tx.GeometryColumnSRID(ctx, layer.TargetTableSchema, layer.TargetTableName, column)
	if err != nil {
		return 0, 0, 0, err
	}
	switch columnSRID {
	case jobworkerdb.NoSRIDFound:
		return geometryPassThrough, columnSRID, undefinedSRID, nil
	case undefinedSRID:
		return geometryUndefinedSRID, columnSRID, undefinedSRID, nil
	}
	return geometryTableSRID, columnSRID, undefinedSRID, nil
}

func incrementalMerge(ctx context.Context, tx *jobworkerdb.Transaction, m *merge, allowDeletion bool, stats *layersync.Statistics) error {
	if update := m.updateSQL(); update != "" {
		n, err := tx.Exec(ctx, update)
		if err != nil {
			return err
		}
		stats.NumUpdated = int(n)
	}
	n, err := tx.Exec(ctx, m.insertSQL())
	if err != nil {
		return err
	}
	stats.NumCreated = int(n)
	if allowDeletion {
		n, err = tx.Exec(ctx, m.deleteSQL())
		if err != nil {
			return err
		}
		stats.NumDeleted = int(n)
	}
	return nil
}

func bulkReplace(ctx context.Context, tx *jobworkerdb.Transaction, layer *config.Layer, m *merge, stats *layersync.Statistics) error {
	if layer.BulkRemove == config.BulkRemoveTruncate {
		count, err := jobworkerdb.QueryValue[int64](ctx, tx, m.countSQL())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, m.truncateSQL())
		if err != nil {
			return err
		}
		stats.NumDeleted = int(count)
	} else {
		n, err := tx.Exec(ctx, m.bulkDeleteSQL())
		if err != nil {
			return err
		}
		stats.NumDeleted = int(n)
	}
	n, err := tx.Exec(ctx, m.bulkInsertSQL())
	if err != nil {
		return err
	}
	stats.NumCreated = int(n)
	return nil
}
