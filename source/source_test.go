package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriversCanOpen(t *testing.T) {
	dir := t.TempDir()

	assert.True(t, PostGISDriver{}.CanOpen("PG:host=localhost dbname=gis"))
	assert.True(t, PostGISDriver{}.CanOpen("postgres://localhost/gis"))
	assert.False(t, PostGISDriver{}.CanOpen("/data/parcels.geojson"))

	assert.True(t, GeoJSONDriver{}.CanOpen("/data/parcels.geojson"))
	assert.True(t, GeoJSONDriver{}.CanOpen("/data/PARCELS.JSON"))
	assert.True(t, GeoJSONDriver{}.CanOpen(dir))
	assert.False(t, GeoJSONDriver{}.CanOpen("PG:dbname=x.json"))
	assert.False(t, GeoJSONDriver{}.CanOpen("/data/parcels.shp"))

	_, err := DefaultDrivers().Open(context.Background(), "/data/parcels.shp")
	require.ErrorIs(t, err, ErrUnknownLocator)
}

func TestRedactLocator(t *testing.T) {
	assert.Equal(t, "PG:host=db password=xxx dbname=gis", redactLocator("PG:host=db password=secret dbname=gis"))
	assert.Equal(t, "PG:host=db password=xxx", redactLocator("PG:host=db password=secret"))
	assert.Equal(t, "postgres://user:xxx@db/gis", redactLocator("postgres://user:secret@db/gis"))
	assert.Equal(t, "postgres://db/gis", redactLocator("postgres://db/gis"))
	assert.Equal(t, "/data/parcels.geojson", redactLocator("/data/parcels.geojson"))
}

func TestPostGISFieldType(t *testing.T) {
	for _, tt := range []struct {
		typName, category, elem string
		fieldType               FieldType
		cast                    string
	}{
		{"int4", "N", "", FieldTypeInteger, "%s::int8"},
		{"int8", "N", "", FieldTypeInteger64, "%s::int8"},
		{"numeric", "N", "", FieldTypeReal, "%s::float8"},
		{"bool", "B", "", FieldTypeInteger, "%s::int4::int8"},
		{"date", "D", "", FieldTypeDate, "%s::text"},
		{"timestamptz", "D", "", FieldTypeDateTime, "%s::text"},
		{"_int4", "A", "int4", FieldTypeIntegerList, "%s::int8[]"},
		{"_float8", "A", "float8", FieldTypeRealList, "%s::float8[]"},
		{"_varchar", "A", "varchar", FieldTypeStringList, "%s::text[]"},
		{"uuid", "U", "", FieldTypeString, "%s::text"},
	} {
		fieldType, cast := postGISFieldType(tt.typName, tt.category, tt.elem)
		assert.Equal(t, tt.fieldType, fieldType, tt.typName)
		assert.Equal(t, tt.cast, cast, tt.typName)
	}
}
