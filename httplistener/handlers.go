package httplistener

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"

	"github.com/domonda/go-layersync"
)

// maxBodySize limits request bodies.
const maxBodySize = 8 << 20

type errorResponse struct {
	Message string `json:"message"`
}

type pullRequest struct {
	LayerName string `json:"layerName"`
	Filter    string `json:"filter"`
}

type removeByAttributesRequest struct {
	LayerName     string           `json:"layerName"`
	AttributeSets []map[string]any `json:"attributeSets"`
}

type jobListResponse struct {
	MaxAgeDoneJobsSeconds int                 `json:"maxAgeDoneJobsSeconds"`
	Jobs                  []layersync.JobInfo `json:"jobs"`
}

type layerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type layerListResponse struct {
	Layers []layerInfo `json:"layers"`
}

type statusResponse struct {
	AppName       string `json:"appName"`
	AppVersion    string `json:"appVersion"`
	NumLayers     int    `json:"numLayers"`
	NumQueuedJobs int    `json:"numQueuedJobs"`
	NumWorkers    int    `json:"numWorkers"`
	layersync.Stats
}

func (l *Listener) apiHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", layersync.AppName+"/"+layersync.Version)
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	err := enc.Encode(value)
	if err != nil {
		log.Error("Can't write JSON response").Err(err).Log()
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// decodeBody decodes the JSON request body into dest.
func decodeBody(r *http.Request, dest any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errs.New("empty request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(dest)
}

// checkLayer writes a 404 response and returns false
// if no layer with name is configured.
func (l *Listener) checkLayer(w http.ResponseWriter, name string) bool {
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing layerName")
		return false
	}
	if _, ok := l.config.Layers.Get(name); !ok {
		msg := fmt.Sprintf("Layer %q does not exist", name)
		l.log.Warn(msg).Log()
		writeError(w, http.StatusNotFound, msg)
		return false
	}
	return true
}

// pushJob pushes job and writes its JSON representation.
func (l *Listener) pushJob(w http.ResponseWriter, job *layersync.Job) {
	err := l.store.Push(job)
	if err != nil {
		l.log.Error("Can't push job").Err(err).Log()
		writeError(w, http.StatusServiceUnavailable, "The server is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, job.Info())
}

func (l *Listener) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	err := decodeBody(r, &req)
	if err != nil {
		l.log.Warn("Invalid pull request").Err(err).Log()
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !l.checkLayer(w, req.LayerName) {
		return
	}
	job, err := layersync.NewPullJob(req.LayerName, req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l.pushJob(w, job)
}

func (l *Listener) handleRemoveByAttributes(w http.ResponseWriter, r *http.Request) {
	var req removeByAttributesRequest
	err := decodeBody(r, &req)
	if err != nil {
		l.log.Warn("Invalid remove-by-attributes request").Err(err).Log()
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !l.checkLayer(w, req.LayerName) {
		return
	}
	attributeSets, err := toAttributeSets(req.AttributeSets)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := layersync.NewRemoveByAttributesJob(req.LayerName, attributeSets)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l.pushJob(w, job)
}

// toAttributeSets converts decoded JSON objects to attribute sets.
// Strings, numbers and booleans are used as text, null matches NULL.
func toAttributeSets(objects []map[string]any) ([]layersync.AttributeSet, error) {
	sets := make([]layersync.AttributeSet, len(objects))
	for i, obj := range objects {
		set := make(layersync.AttributeSet, len(obj))
		for name, value := range obj {
			switch v := value.(type) {
			case nil:
				set[name] = nil
			case string:
				set[name] = &v
			case json.Number:
				str := v.String()
				set[name] = &str
			case bool:
				str := strconv.FormatBool(v)
				set[name] = &str
			default:
				return nil, fmt.Errorf("attribute %q of attributeSet %d must be a string, number, boolean or null", name, i)
			}
		}
		sets[i] = set
	}
	return sets, nil
}

func (l *Listener) handleJobList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jobListResponse{
		MaxAgeDoneJobsSeconds: int(l.config.MaxAgeDoneJobs.Seconds()),
		Jobs:                  l.store.GetOrderedJobs(),
	})
}

func (l *Listener) handleGetJob(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := uu.IDFromString(idParam)
	if err != nil {
		writeError(w, http.StatusNotFound, "No job with the id "+idParam+" exists.")
		return
	}
	info, err := l.store.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "No job with the id "+idParam+" exists.")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (l *Listener) handleLayerList(w http.ResponseWriter, r *http.Request) {
	resp := layerListResponse{Layers: []layerInfo{}}
	for _, layer := range l.config.Layers.All() {
		resp.Layers = append(resp.Layers, layerInfo{
			Name:        layer.Name,
			Description: layer.Description,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (l *Listener) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		AppName:       layersync.AppName,
		AppVersion:    layersync.Version,
		NumLayers:     l.config.Layers.Len(),
		NumQueuedJobs: l.store.QueueSize(),
		NumWorkers:    l.config.NumWorkers(),
		Stats:         l.store.Stats(),
	})
}
