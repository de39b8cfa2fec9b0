package jobworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryExpr(t *testing.T) {
	assert.Equal(t, "$3::geometry", geometryExpr(geometryPassThrough, "$3", -555, 0))
	assert.Equal(t, "st_setsrid($1::geometry, 0)", geometryExpr(geometryUndefinedSRID, "$1", 0, 0))
	assert.Equal(t,
		"case when st_srid($2::geometry) = 0 then st_setsrid($2::geometry, 25832) else st_transform($2::geometry, 25832) end",
		geometryExpr(geometryTableSRID, "$2", 25832, 0),
	)
	assert.Equal(t,
		"case when st_srid($1::geometry) = -1 then st_setsrid($1::geometry, 4326) else st_transform($1::geometry, 4326) end",
		geometryExpr(geometryTableSRID, "$1", 4326, -1),
	)
}

func testMerge() *merge {
	return &merge{
		target:     `"gis"."parcels"`,
		temp:       `"layersync_0a"`,
		primaryKey: []string{`"id"`},
		columns:    []string{`"name"`, `"area"`},
		geometry:   `"geom"`,
	}
}

func TestMergeAllColumns(t *testing.T) {
	m := testMerge()
	assert.Equal(t, []string{`"id"`, `"name"`, `"area"`, `"geom"`}, m.allColumns())

	m.geometry = ""
	assert.Equal(t, []string{`"id"`, `"name"`, `"area"`}, m.allColumns())
}

func TestMergePrimaryKeyJoin(t *testing.T) {
	m := testMerge()
	assert.Equal(t, `t."id" = s."id"`, m.primaryKeyJoin("t", "s"))

	m.primaryKey = []string{`"a"`, `"b"`}
	assert.Equal(t, `s."a" = t."a" and s."b" = t."b"`, m.primaryKeyJoin("s", "t"))
}

func TestMergeUpdateSQL(t *testing.T) {
	m := testMerge()
	update := m.updateSQL()
	assert.Contains(t, update, `update "gis"."parcels" as t set "name" = s."name", "area" = s."area", "geom" = s."geom" from "layersync_0a" as s`)
	assert.Contains(t, update, `where t."id" = s."id" and (t."name" is distinct from s."name" or t."area" is distinct from s."area" or (case`)
	assert.Contains(t, update, `not st_equals(t."geom", s."geom")`)

	m.geometry = ""
	assert.Equal(t,
		`update "gis"."parcels" as t set "name" = s."name", "area" = s."area" from "layersync_0a" as s where t."id" = s."id" and (t."name" is distinct from s."name" or t."area" is distinct from s."area")`,
		m.updateSQL(),
	)

	m.columns = nil
	assert.Empty(t, m.updateSQL(), "nothing besides the primary key")
}

func TestMergeInsertDeleteSQL(t *testing.T) {
	m := testMerge()
	assert.Equal(t,
		`insert into "gis"."parcels" ("id", "name", "area", "geom") select s."id", s."name", s."area", s."geom" from "layersync_0a" as s where not exists (select from "gis"."parcels" as t where t."id" = s."id")`,
		m.insertSQL(),
	)
	assert.Equal(t,
		`delete from "gis"."parcels" as t where not exists (select from "layersync_0a" as s where s."id" = t."id")`,
		m.deleteSQL(),
	)
}

func TestMergeBulkSQL(t *testing.T) {
	m := testMerge()
	assert.Equal(t,
		`insert into "gis"."parcels" ("id", "name", "area", "geom") select "id", "name", "area", "geom" from "layersync_0a"`,
		m.bulkInsertSQL(),
	)
	assert.Equal(t, `delete from "gis"."parcels"`, m.bulkDeleteSQL())
	assert.Equal(t, `truncate table "gis"."parcels"`, m.truncateSQL())
	assert.Equal(t, `select count(*) from "gis"."parcels"`, m.countSQL())
}

func TestGeometryDiffers(t *testing.T) {
	cond := geometryDiffers(`"geom"`)
	assert.Contains(t, cond, `when t."geom" is null and s."geom" is null then false`)
	assert.Contains(t, cond, `when t."geom" is null or s."geom" is null then true`)
	assert.Contains(t, cond, `then st_asewkb(t."geom") <> st_asewkb(s."geom")`)
}

func TestInsertStatement(t *testing.T) {
	assert.Equal(t,
		`insert into "tmp" ("id", "geom") values (($1::bigint)::integer, $2::geometry)`,
		insertStatement(`"tmp"`, []string{`"id"`, `"geom"`}, []string{`($1::bigint)::integer`, `$2::geometry`}),
	)
}

func TestRemoveByAttributesSQL(t *testing.T) {
	assert.Equal(t,
		`delete from "gis"."parcels" where ("id" is not distinct from $1)`,
		removeByAttributesSQL(`"gis"."parcels"`, [][]string{{`"id"`}}),
	)
	assert.Equal(t,
		`delete from "gis"."parcels" where ("a" is not distinct from $1 and "b" is not distinct from $2) or ("c" is not distinct from $3)`,
		removeByAttributesSQL(`"gis"."parcels"`, [][]string{{`"a"`, `"b"`}, {`"c"`}}),
	)
}
