package httplistener

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/config"
)

func testListener(t *testing.T) (*Listener, *layersync.Store) {
	t.Helper()

	layers, err := config.NewLayers([]config.Layer{
		{
			Name:              "parcels",
			Description:       "Land parcels",
			Source:            "parcels.geojson",
			SourceLayer:       "parcels",
			TargetTableSchema: "gis",
			TargetTableName:   "parcels",
		},
		{
			Name:              "buildings",
			Source:            "buildings.geojson",
			SourceLayer:       "buildings",
			TargetTableSchema: "gis",
			TargetTableName:   "buildings",
		},
	})
	require.NoError(t, err)

	store := layersync.NewStore(layersync.StoreConfig{})
	t.Cleanup(func() { store.Close() })

	l := New(store, Config{
		Listen:         "127.0.0.1:0",
		Layers:         layers,
		MaxAgeDoneJobs: time.Hour,
		NumWorkers:     func() int { return 3 },
	})
	return l, store
}

func serve(t *testing.T, l *Listener, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)
	resp := rec.Result()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeMessage(t *testing.T, data []byte) string {
	t.Helper()

	var e errorResponse
	require.NoError(t, json.Unmarshal(data, &e), string(data))
	return e.Message
}

func TestPull(t *testing.T) {
	l, store := testListener(t)

	resp, data := serve(t, l, http.MethodPost, "/api/pull", `{"layerName": "parcels", "filter": "id > 10"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	var info layersync.JobInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, layersync.JobTypePull, info.Type)
	assert.Equal(t, layersync.StatusQueued, info.Status)
	assert.Equal(t, "parcels", info.LayerName)
	assert.Equal(t, "id > 10", info.Filter)

	assert.Equal(t, 1, store.QueueSize())
	stored, err := store.GetJob(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, stored.ID)
}

func TestPullErrors(t *testing.T) {
	l, store := testListener(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "unknown layer", body: `{"layerName": "roads"}`, wantStatus: http.StatusNotFound, wantMsg: `Layer "roads" does not exist`},
		{name: "missing layer", body: `{"filter": "a = 1"}`, wantStatus: http.StatusBadRequest, wantMsg: "Missing layerName"},
		{name: "malformed", body: `{"layerName": `, wantStatus: http.StatusBadRequest, wantMsg: "Invalid request body: "},
		{name: "empty", body: ``, wantStatus: http.StatusBadRequest, wantMsg: "Invalid request body: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := serve(t, l, http.MethodPost, "/api/pull", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, decodeMessage(t, data), tt.wantMsg)
		})
	}
	assert.Zero(t, store.NumJobs())
}

func TestPullAfterQuit(t *testing.T) {
	l, store := testListener(t)
	store.Quit()

	resp, data := serve(t, l, http.MethodPost, "/api/pull", `{"layerName": "parcels"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, decodeMessage(t, data))
}

func TestRemoveByAttributes(t *testing.T) {
	l, store := testListener(t)

	body := `{"layerName": "parcels", "attributeSets": [{"id": 7, "name": null}, {"code": "A-1", "active": true}]}`
	resp, data := serve(t, l, http.MethodPost, "/api/remove-by-attributes", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var info layersync.JobInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, layersync.JobTypeRemoveByAttributes, info.Type)
	require.Len(t, info.AttributeSets, 2)
	require.NotNil(t, info.AttributeSets[0]["id"])
	assert.Equal(t, "7", *info.AttributeSets[0]["id"])
	assert.Contains(t, info.AttributeSets[0], "name")
	assert.Nil(t, info.AttributeSets[0]["name"])
	assert.Equal(t, "A-1", *info.AttributeSets[1]["code"])
	assert.Equal(t, "true", *info.AttributeSets[1]["active"])
	assert.Equal(t, 1, store.QueueSize())

	resp, data = serve(t, l, http.MethodPost, "/api/remove-by-attributes", `{"layerName": "parcels", "attributeSets": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no attributeSets", decodeMessage(t, data))

	resp, data = serve(t, l, http.MethodPost, "/api/remove-by-attributes", `{"layerName": "parcels", "attributeSets": [{"id": [1, 2]}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeMessage(t, data), `attribute "id" of attributeSet 0`)
}

func TestToAttributeSets(t *testing.T) {
	sets, err := toAttributeSets([]map[string]any{{"a": json.Number("1.50"), "b": false}})
	require.NoError(t, err)
	assert.Equal(t, "1.50", *sets[0]["a"])
	assert.Equal(t, "false", *sets[0]["b"])

	_, err = toAttributeSets([]map[string]any{{"a": map[string]any{}}})
	assert.Error(t, err)
}

func TestJobList(t *testing.T) {
	l, store := testListener(t)

	first, err := layersync.NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(first))
	time.Sleep(2 * time.Millisecond)
	second, err := layersync.NewPullJob("buildings", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(second))

	resp, data := serve(t, l, http.MethodGet, "/api/jobs.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list jobListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, 3600, list.MaxAgeDoneJobsSeconds)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, second.ID(), list.Jobs[0].ID, "most recent first")
	assert.Equal(t, first.ID(), list.Jobs[1].ID)
}

func TestGetJob(t *testing.T) {
	l, store := testListener(t)

	job, err := layersync.NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(job))
	job.SetStatus(layersync.StatusInProcess)
	job.Finish(layersync.Statistics{NumPulled: 5, NumCreated: 5}, "pulled 5, created 5, updated 0, deleted 0")

	resp, data := serve(t, l, http.MethodGet, "/api/jobs/"+job.ID().String()+".json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, job.ID().String(), fields["id"])
	assert.Equal(t, "finished", fields["status"])
	assert.Equal(t, "pull", fields["type"])
	assert.Equal(t, float64(5), fields["numPulled"])
	assert.Equal(t, float64(5), fields["numCreated"])
	assert.Equal(t, float64(0), fields["numIgnored"])
	assert.NotNil(t, fields["timeFinished"])
	assert.Nil(t, fields["errorMessage"])

	resp, data = serve(t, l, http.MethodGet, "/api/jobs/4a2e9e64-2d51-4bd5-9e2e-0c8c1f3f8a11.json", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No job with the id 4a2e9e64-2d51-4bd5-9e2e-0c8c1f3f8a11 exists.", decodeMessage(t, data))

	resp, _ = serve(t, l, http.MethodGet, "/api/jobs/not-an-id.json", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLayerList(t *testing.T) {
	l, _ := testListener(t)

	resp, data := serve(t, l, http.MethodGet, "/api/layers.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list layerListResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, []layerInfo{
		{Name: "buildings"},
		{Name: "parcels", Description: "Land parcels"},
	}, list.Layers)
}

func TestStatus(t *testing.T) {
	l, store := testListener(t)

	job, err := layersync.NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(job))

	resp, data := serve(t, l, http.MethodGet, "/api/status.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, layersync.AppName, status.AppName)
	assert.Equal(t, layersync.Version, status.AppVersion)
	assert.Equal(t, 2, status.NumLayers)
	assert.Equal(t, 1, status.NumQueuedJobs)
	assert.Equal(t, 3, status.NumWorkers)
	assert.Equal(t, 1, status.NumQueued)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	l, _ := testListener(t)

	resp, data := serve(t, l, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decodeMessage(t, data), "/api/unknown")

	resp, _ = serve(t, l, http.MethodGet, "/api/pull", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	l, _ := testListener(t)
	ctx := context.Background()

	assert.Empty(t, l.Addr())
	require.NoError(t, l.Start(ctx))
	assert.Error(t, l.Start(ctx), "already started")

	addr := l.Addr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/api/status.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, layersync.AppName+"/"+layersync.Version, resp.Header.Get("Server"))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, l.Stop(stopCtx))
	assert.Empty(t, l.Addr())
	require.NoError(t, l.Stop(stopCtx), "stopping twice")

	_, err = http.Get("http://" + addr + "/api/status.json")
	assert.Error(t, err)
}
