package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleYAML = `
http:
  listen: ":9090"
num_worker_threads: 4
max_age_done_jobs: 1h
database:
  host: db.example.com
  user: gis
  database: gis
layers:
  - name: parcels
    source: /data/parcels.geojson
    source_layer: parcels
    target_table_schema: public
    target_table_name: parcels
    allow_feature_deletion: true
    primary_key_columns: [parcel_id]
  - name: buildings
    source: "PG:host=source dbname=osm"
    source_layer: public.buildings
    target_table_schema: osm
    target_table_name: buildings
    filter: "height > 10"
    bulk_mode: true
    bulk_remove: truncate
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(exampleYAML), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	assert.Equal(t, 4, cfg.NumWorkerThreads)
	assert.Equal(t, time.Hour, cfg.MaxAgeDoneJobs)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultReconnectInterval, cfg.ReconnectInterval)
	assert.True(t, cfg.PersistentConnections)
	assert.Equal(t, uint16(5432), cfg.Database.Port)

	require.Equal(t, 2, cfg.Layers.Len())
	all := cfg.Layers.All()
	assert.Equal(t, "buildings", all[0].Name, "sorted by name")
	assert.Equal(t, "parcels", all[1].Name)

	parcels, ok := cfg.Layers.Get("parcels")
	require.True(t, ok)
	assert.True(t, parcels.AllowFeatureDeletion)
	assert.Equal(t, []string{"parcel_id"}, parcels.PrimaryKeyColumns)

	buildings, ok := cfg.Layers.Get("buildings")
	require.True(t, ok)
	assert.Equal(t, BulkRemoveTruncate, buildings.BulkRemove)
	assert.Equal(t, "height > 10", buildings.Filter)

	_, ok = cfg.Layers.Get("unknown")
	assert.False(t, ok)
}

func TestParseEnvironmentOverrides(t *testing.T) {
	cfg, err := Parse([]byte(exampleYAML), map[string]string{
		"LAYERSYNC_HTTP_LISTEN":            "127.0.0.1:7000",
		"LAYERSYNC_NUM_WORKER_THREADS":     "8",
		"LAYERSYNC_DATABASE_URL":           "postgres://other/gis",
		"LAYERSYNC_PERSISTENT_CONNECTIONS": "false",
		"LAYERSYNC_RECONNECT_INTERVAL":     "250ms",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.HTTP.Listen)
	assert.Equal(t, 8, cfg.NumWorkerThreads)
	assert.Equal(t, "postgres://other/gis", cfg.Database.ConnectURL())
	assert.False(t, cfg.PersistentConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInterval)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":      "database: {database: gis}\nunknown_setting: 1\n",
		"no workers":         "database: {database: gis}\nnum_worker_threads: 0\n",
		"no database":        "database: {host: localhost}\n",
		"bad listen address": "database: {database: gis}\nhttp: {listen: nonsense}\n",
		"duplicate layer": `
database: {database: gis}
layers:
  - {name: a, source: x, source_layer: a, target_table_schema: s, target_table_name: t}
  - {name: a, source: y, source_layer: b, target_table_schema: s, target_table_name: u}
`,
		"layer without target": `
database: {database: gis}
layers:
  - {name: a, source: x, source_layer: a}
`,
		"invalid bulk_remove": `
database: {database: gis}
layers:
  - {name: a, source: x, source_layer: a, target_table_schema: s, target_table_name: t, bulk_remove: drop}
`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data), map[string]string{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), "error %q must be a configuration error", err)

			var configErr *ConfigurationError
			assert.True(t, errors.As(err, &configErr))
		})
	}
}

func TestLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "layersync.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(exampleYAML), 0o600))

	cfg, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Layers.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLayersCopies(t *testing.T) {
	layers, err := NewLayers([]Layer{{
		Name:              "a",
		Source:            "x",
		SourceLayer:       "a",
		TargetTableSchema: "s",
		TargetTableName:   "t",
		PrimaryKeyColumns: []string{"id"},
	}})
	require.NoError(t, err)

	layer, _ := layers.Get("a")
	layer.PrimaryKeyColumns[0] = "changed"
	layer.Name = "changed"

	again, _ := layers.Get("a")
	assert.Equal(t, "a", again.Name)
	assert.Equal(t, []string{"id"}, again.PrimaryKeyColumns)
	assert.Equal(t, "nil Layer", (*Layer)(nil).String())
}
