package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostGISDriver opens the geometry tables of a PostGIS database.
//
// The locator is either "PG:" followed by a keyword/value
// connection string or a postgres:// URL.
// Every table registered in geometry_columns is a layer named
// "schema.table", for tables in the public schema the name
// without schema is accepted too.
type PostGISDriver struct{}

func isPostGISLocator(locator string) bool {
	return strings.HasPrefix(locator, "PG:") ||
		strings.HasPrefix(locator, "postgres://") ||
		strings.HasPrefix(locator, "postgresql://")
}

func (PostGISDriver) Name() string { return "PostgreSQL" }

func (PostGISDriver) CanOpen(locator string) bool {
	return isPostGISLocator(locator)
}

func (PostGISDriver) Open(ctx context.Context, locator string) (ds Dataset, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, redactLocator(locator))

	config, err := pgx.ParseConfig(strings.TrimPrefix(locator, "PG:"))
	if err != nil {
		return nil, err
	}
	config.RuntimeParams["application_name"] = "layersync source"
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	dataset := &postGISDataset{
		conn:   conn,
		tables: make(map[string]postGISTable),
	}
	rows, err := conn.Query(ctx,
		/*sql*/ `
			select
				f_table_schema,
				f_table_name,
				f_geometry_column,
				has_table_privilege(format('%I.%I', f_table_schema, f_table_name), 'select')
			from geometry_columns
			order by f_table_schema, f_table_name, f_geometry_column
		`,
	)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	for rows.Next() {
		var t postGISTable
		err = rows.Scan(&t.schema, &t.table, &t.geometryColumn, &t.readable)
		if err != nil {
			rows.Close()
			conn.Close(ctx)
			return nil, err
		}
		name := t.schema + "." + t.table
		if _, exists := dataset.tables[name]; exists {
			// Only the first geometry column of a table is used
			continue
		}
		dataset.tables[name] = t
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return dataset, nil
}

type postGISTable struct {
	schema         string
	table          string
	geometryColumn string
	readable       bool
}

type postGISDataset struct {
	conn   *pgx.Conn
	tables map[string]postGISTable
}

func (d *postGISDataset) LayerNames() (readable, unreadable []string) {
	for name, t := range d.tables {
		if t.readable {
			readable = append(readable, name)
		} else {
			unreadable = append(unreadable, name)
		}
	}
	sort.Strings(readable)
	sort.Strings(unreadable)
	return readable, unreadable
}

func (d *postGISDataset) lookup(name string) (postGISTable, bool) {
	if t, ok := d.tables[name]; ok {
		return t, true
	}
	if !strings.Contains(name, ".") {
		t, ok := d.tables["public."+name]
		return t, ok
	}
	return postGISTable{}, false
}

func (d *postGISDataset) Layer(ctx context.Context, name string) (l Layer, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, name)

	t, ok := d.lookup(name)
	if !ok {
		return nil, errs.Errorf("%w: %s", ErrLayerNotFound, name)
	}
	if !t.readable {
		return nil, &UnreadableLayerError{Layer: name, Reason: "permission denied"}
	}
	layer := &postGISLayer{
		conn:      d.conn,
		name:      name,
		quoted:    pgx.Identifier{t.schema, t.table}.Sanitize(),
		geomQuote: pgx.Identifier{t.geometryColumn}.Sanitize(),
	}
	rows, err := d.conn.Query(ctx,
		/*sql*/ `
			select a.attname, t.typname, t.typcategory, coalesce(e.typname, '')
			from pg_catalog.pg_attribute as a
				join pg_catalog.pg_type as t on t.oid = a.atttypid
				left join pg_catalog.pg_type as e on e.oid = t.typelem and t.typcategory = 'A'
			where a.attrelid = $1::regclass
				and a.attnum > 0
				and not a.attisdropped
				and a.attname <> $2
			order by a.attnum
		`,
		layer.quoted,     // $1
		t.geometryColumn, // $2
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var colName, typName, typCategory, elemTypName string
		err = rows.Scan(&colName, &typName, &typCategory, &elemTypName)
		if err != nil {
			return nil, err
		}
		fieldType, cast := postGISFieldType(typName, typCategory, elemTypName)
		layer.fields = append(layer.fields, FieldDefn{Name: colName, Type: fieldType})
		layer.selects = append(layer.selects, fmt.Sprintf(cast, pgx.Identifier{colName}.Sanitize()))
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return layer, nil
}

// postGISFieldType maps a server type to a FieldType and
// the select expression format casting a column to the
// Go type documented for Feature.Values.
func postGISFieldType(typName, typCategory, elemTypName string) (FieldType, string) {
	switch typName {
	case "int2", "int4":
		return FieldTypeInteger, "%s::int8"
	case "int8":
		return FieldTypeInteger64, "%s::int8"
	case "bool":
		return FieldTypeInteger, "%s::int4::int8"
	case "float4", "float8", "numeric":
		return FieldTypeReal, "%s::float8"
	case "date":
		return FieldTypeDate, "%s::text"
	case "time", "timetz":
		return FieldTypeTime, "%s::text"
	case "timestamp", "timestamptz":
		return FieldTypeDateTime, "%s::text"
	}
	if typCategory == "A" {
		switch elemTypName {
		case "int2", "int4", "int8":
			return FieldTypeIntegerList, "%s::int8[]"
		case "float4", "float8", "numeric":
			return FieldTypeRealList, "%s::float8[]"
		}
		return FieldTypeStringList, "%s::text[]"
	}
	return FieldTypeString, "%s::text"
}

func (d *postGISDataset) Close() error {
	return d.conn.Close(context.Background())
}

type postGISLayer struct {
	conn      *pgx.Conn
	name      string
	quoted    string
	geomQuote string
	fields    []FieldDefn
	selects   []string
	where     string
}

func (l *postGISLayer) Name() string        { return l.name }
func (l *postGISLayer) Fields() []FieldDefn { return l.fields }

// SetAttributeFilter uses filter as SQL where clause
// after checking it with the server.
func (l *postGISLayer) SetAttributeFilter(ctx context.Context, filter string) error {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		l.where = ""
		return nil
	}
	_, err := l.conn.Exec(ctx, `select 1 from `+l.quoted+` where (`+filter+`) limit 0`)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return &FilterError{Filter: filter, Pos: int(pgErr.Position), Msg: pgErr.Message}
		}
		return err
	}
	l.where = filter
	return nil
}

func (l *postGISLayer) query() string {
	selects := append([]string(nil), l.selects...)
	selects = append(selects, "st_asewkb("+l.geomQuote+")", "st_srid("+l.geomQuote+")")
	query := `select ` + strings.Join(selects, ", ") + ` from ` + l.quoted
	if l.where != "" {
		query += ` where (` + l.where + `)`
	}
	return query
}

func (l *postGISLayer) Iterate(ctx context.Context, fn func(*Feature) error) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	tx, err := l.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `set local datestyle to 'ISO, YMD'`)
	if err != nil {
		return err
	}
	rows, err := tx.Query(ctx, l.query())
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		feature   Feature
		numFields = len(l.fields)
	)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		feature.FID++
		feature.Values = values[:numFields]
		feature.Geometry = nil
		if wkb, ok := values[numFields].([]byte); ok && wkb != nil {
			srid, _ := values[numFields+1].(int32)
			feature.Geometry = &Geometry{EWKB: wkb, SRID: int(srid)}
		}
		err = fn(&feature)
		if err != nil {
			return err
		}
	}
	return rows.Err()
}
