package jobworkerdb

import (
	"context"
	"sort"

	"github.com/domonda/go-errs"
	"github.com/jackc/pgx/v5"
)

// Field describes a column of a table.
type Field struct {
	Name string

	// PgType is the SQL name of the column type
	// without modifiers, like "character varying".
	PgType string

	// PgTypeName is the internal type name, like "varchar".
	PgTypeName string

	PgTypeOID    uint32
	IsPrimaryKey bool

	// Position is the 1 based column number within the table.
	Position int
}

// IsGeometry returns true for PostGIS geometry columns.
func (f *Field) IsGeometry() bool {
	return f.PgTypeName == "geometry"
}

// FieldMap maps column names to their Field.
type FieldMap map[string]Field

// Sorted returns all fields in table column order.
func (m FieldMap) Sorted() []Field {
	fields := make([]Field, 0, len(m))
	for _, f := range m {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })
	return fields
}

// PrimaryKey returns the names of the primary key columns
// in table column order.
func (m FieldMap) PrimaryKey() []string {
	var names []string
	for _, f := range m.Sorted() {
		if f.IsPrimaryKey {
			names = append(names, f.Name)
		}
	}
	return names
}

// GeometryFields returns the geometry columns in table column order.
func (m FieldMap) GeometryFields() []Field {
	var fields []Field
	for _, f := range m.Sorted() {
		if f.IsGeometry() {
			fields = append(fields, f)
		}
	}
	return fields
}

// GetTableFields returns the columns of schema.table
// read from the system catalog.
func (t *Transaction) GetTableFields(ctx context.Context, schema, table string) (fields FieldMap, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, schema, table)

	fields = make(FieldMap)
	err = t.QueryRows(ctx,
		/*sql*/ `
			select
				a.attname,
				format_type(a.atttypid, null),
				t.typname,
				a.atttypid,
				coalesce(a.attnum = any(pk.conkey), false),
				a.attnum
			from pg_catalog.pg_attribute as a
				join pg_catalog.pg_class as c on c.oid = a.attrelid
				join pg_catalog.pg_namespace as n on n.oid = c.relnamespace
				join pg_catalog.pg_type as t on t.oid = a.atttypid
				left join pg_catalog.pg_constraint as pk
					on pk.conrelid = c.oid and pk.contype = 'p'
			where n.nspname = $1
				and c.relname = $2
				and a.attnum > 0
				and not a.attisdropped
			order by a.attnum
		`,
		[]any{
			schema, // $1
			table,  // $2
		},
		func(rows pgx.Rows) error {
			var (
				f        Field
				position int16
			)
			err := rows.Scan(&f.Name, &f.PgType, &f.PgTypeName, &f.PgTypeOID, &f.IsPrimaryKey, &position)
			if err != nil {
				return err
			}
			f.Position = int(position)
			fields[f.Name] = f
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errs.Errorf("%w: %s.%s", ErrTableNotFound, schema, table)
	}
	return fields, nil
}
