package jobworkerdb

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/jackc/pgx/v5"
)

// NoSRIDFound is returned by GeometryColumnSRID
// if geometry_columns has no entry for a column.
const NoSRIDFound = -555

// UndefinedSRID returns the SRID PostGIS uses for geometries
// without spatial reference system.
// PostGIS before version 2 used -1, later versions use 0.
func UndefinedSRID(postGISMajorVersion int) int {
	if postGISMajorVersion < 2 {
		return -1
	}
	return 0
}

// PostGISVersion returns the major version of the PostGIS library.
func (t *Transaction) PostGISVersion(ctx context.Context) (major int, err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	version, err := QueryValue[string](ctx, t, `select postgis_lib_version()`)
	if err != nil {
		return 0, err
	}
	return parseMajorVersion(version)
}

func parseMajorVersion(version string) (int, error) {
	version = strings.TrimSpace(version)
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errs.Errorf("invalid version string %q", version)
	}
	return strconv.Atoi(version[:end])
}

// GeometryColumnSRID returns the SRID registered
// for schema.table.column in geometry_columns
// or NoSRIDFound if there is no entry.
func (t *Transaction) GeometryColumnSRID(ctx context.Context, schema, table, column string) (srid int, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, schema, table, column)

	srid32, err := QueryValue[int32](ctx, t,
		/*sql*/ `
			select srid
			from geometry_columns
			where f_table_schema = $1
				and f_table_name = $2
				and f_geometry_column = $3
		`,
		schema, // $1
		table,  // $2
		column, // $3
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return NoSRIDFound, nil
	}
	if err != nil {
		return 0, err
	}
	return int(srid32), nil
}
