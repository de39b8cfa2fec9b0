package jobworker

import (
	"strconv"
	"strings"
)

// geometryMode selects how incoming geometries
// are assigned the spatial reference of the target column.
type geometryMode int

const (
	// geometryPassThrough inserts geometries unchanged,
	// used if geometry_columns has no entry for the column.
	geometryPassThrough geometryMode = iota
	// geometryUndefinedSRID tags geometries with the undefined SRID
	// that is registered for the column.
	geometryUndefinedSRID
	// geometryTableSRID assigns the SRID of the column to geometries
	// with undefined SRID and transforms all others to it.
	geometryTableSRID
)

// geometryExpr returns the SQL expression converting the
// hex EWKB parameter param to a geometry for the target column.
func geometryExpr(mode geometryMode, param string, columnSRID, undefinedSRID int) string {
	g := param + "::geometry"
	switch mode {
	case geometryUndefinedSRID:
		return "st_setsrid(" + g + ", " + strconv.Itoa(undefinedSRID) + ")"
	case geometryTableSRID:
		srid := strconv.Itoa(columnSRID)
		return "case when st_srid(" + g + ") = " + strconv.Itoa(undefinedSRID) +
			" then st_setsrid(" + g + ", " + srid + ")" +
			" else st_transform(" + g + ", " + srid + ") end"
	}
	return g
}

// merge holds the quoted identifiers needed to reconcile
// the pulled rows of a temp table with the target table.
type merge struct {
	target string
	temp   string

	primaryKey []string
	// columns are the matched non primary key columns
	// without the geometry column.
	columns  []string
	geometry string
}

// allColumns returns the primary key, the columns
// and the geometry column if there is one.
func (m *merge) allColumns() []string {
	all := make([]string, 0, len(m.primaryKey)+len(m.columns)+1)
	all = append(all, m.primaryKey...)
	all = append(all, m.columns...)
	if m.geometry != "" {
		all = append(all, m.geometry)
	}
	return all
}

func prefixed(prefix string, columns []string) []string {
	p := make([]string, len(columns))
	for i, col := range columns {
		p[i] = prefix + col
	}
	return p
}

func (m *merge) primaryKeyJoin(a, b string) string {
	conds := make([]string, len(m.primaryKey))
	for i, col := range m.primaryKey {
		conds[i] = a + "." + col + " = " + b + "." + col
	}
	return strings.Join(conds, " and ")
}

// geometryDiffers returns the SQL condition that is true if
// the geometries t.g and s.g differ.
// Geometries with different SRIDs and multi geometries or collections
// are compared by their binary representation,
// all others by spatial equality.
func geometryDiffers(g string) string {
	t, s := "t."+g, "s."+g
	return `case` +
		` when ` + t + ` is null and ` + s + ` is null then false` +
		` when ` + t + ` is null or ` + s + ` is null then true` +
		` when st_srid(` + t + `) <> st_srid(` + s + `)` +
		` or st_geometrytype(` + t + `) ~ '^ST_(Multi|GeometryCollection)'` +
		` or st_geometrytype(` + s + `) ~ '^ST_(Multi|GeometryCollection)'` +
		` then st_asewkb(` + t + `) <> st_asewkb(` + s + `)` +
		` else not st_equals(` + t + `, ` + s + `)` +
		` end`
}

// updateSQL returns the statement updating target rows with
// a matching primary key in the temp table if any column differs,
// or an empty string if there is nothing besides the primary key to update.
func (m *merge) updateSQL() string {
	if len(m.columns) == 0 && m.geometry == "" {
		return ""
	}
	var (
		sets  []string
		diffs []string
	)
	for _, col := range m.columns {
		sets = append(sets, col+" = s."+col)
		diffs = append(diffs, "t."+col+" is distinct from s."+col)
	}
	if m.geometry != "" {
		sets = append(sets, m.geometry+" = s."+m.geometry)
		diffs = append(diffs, "("+geometryDiffers(m.geometry)+")")
	}
	return `update ` + m.target + ` as t set ` + strings.Join(sets, ", ") +
		` from ` + m.temp + ` as s` +
		` where ` + m.primaryKeyJoin("t", "s") +
		` and (` + strings.Join(diffs, " or ") + `)`
}

// insertSQL returns the statement inserting temp table rows
// without a matching primary key in the target table.
func (m *merge) insertSQL() string {
	cols := m.allColumns()
	return `insert into ` + m.target + ` (` + strings.Join(cols, ", ") + `)` +
		` select ` + strings.Join(prefixed("s.", cols), ", ") +
		` from ` + m.temp + ` as s` +
		` where not exists (select from ` + m.target + ` as t where ` + m.primaryKeyJoin("t", "s") + `)`
}

// deleteSQL returns the statement deleting target rows
// without a matching primary key in the temp table.
func (m *merge) deleteSQL() string {
	return `delete from ` + m.target + ` as t` +
		` where not exists (select from ` + m.temp + ` as s where ` + m.primaryKeyJoin("s", "t") + `)`
}

// bulkInsertSQL returns the statement inserting all temp table rows.
func (m *merge) bulkInsertSQL() string {
	cols := m.allColumns()
	return `insert into ` + m.target + ` (` + strings.Join(cols, ", ") + `)` +
		` select ` + strings.Join(cols, ", ") + ` from ` + m.temp
}

func (m *merge) bulkDeleteSQL() string {
	return `delete from ` + m.target
}

func (m *merge) countSQL() string {
	return `select count(*) from ` + m.target
}

func (m *merge) truncateSQL() string {
	return `truncate table ` + m.target
}

// insertStatement returns the parameterized statement inserting one
// feature into the temp table, exprs has one expression per column.
func insertStatement(temp string, columns, exprs []string) string {
	return `insert into ` + temp + ` (` + strings.Join(columns, ", ") + `)` +
		` values (` + strings.Join(exprs, ", ") + `)`
}

// removeByAttributesSQL returns the statement deleting all rows of target
// matching any of the column sets. Every set is a list of quoted column
// names that are compared with the following positional parameters,
// starting with $1, using IS NOT DISTINCT FROM so that NULL matches NULL.
func removeByAttributesSQL(target string, sets [][]string) string {
	var (
		ors   = make([]string, len(sets))
		param = 0
	)
	for i, cols := range sets {
		ands := make([]string, len(cols))
		for j, col := range cols {
			param++
			ands[j] = col + " is not distinct from $" + strconv.Itoa(param)
		}
		ors[i] = "(" + strings.Join(ands, " and ") + ")"
	}
	return `delete from ` + target + ` where ` + strings.Join(ors, " or ")
}
