package source

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSONSRID is the spatial reference of all GeoJSON geometries
// as defined by RFC 7946.
const GeoJSONSRID = 4326

// GeoJSONDriver opens GeoJSON files and directories of GeoJSON files.
//
// A file is a dataset with a single layer named like the file
// without extension. A directory is a dataset with one layer per
// .geojson or .json file, files that can't be parsed are
// unreadable layers.
type GeoJSONDriver struct{}

func (GeoJSONDriver) Name() string { return "GeoJSON" }

func (GeoJSONDriver) CanOpen(locator string) bool {
	if isPostGISLocator(locator) || strings.Contains(locator, "://") {
		return false
	}
	if isGeoJSONFile(locator) {
		return true
	}
	info, err := os.Stat(locator)
	return err == nil && info.IsDir()
}

func isGeoJSONFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".geojson", ".json":
		return true
	}
	return false
}

func (GeoJSONDriver) Open(ctx context.Context, locator string) (ds Dataset, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, locator)

	info, err := os.Stat(locator)
	if err != nil {
		return nil, err
	}
	dataset := &geoJSONDataset{
		layers:     make(map[string]*geoJSONLayer),
		unreadable: make(map[string]string),
	}
	if !info.IsDir() {
		layer, err := readGeoJSONLayer(locator)
		if err != nil {
			return nil, err
		}
		dataset.layers[layer.name] = layer
		return dataset, nil
	}

	entries, err := os.ReadDir(locator)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isGeoJSONFile(entry.Name()) {
			continue
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		layer, err := readGeoJSONLayer(filepath.Join(locator, entry.Name()))
		if err != nil {
			name := layerNameFromFile(entry.Name())
			dataset.unreadable[name] = err.Error()
			log.Warn("Unreadable GeoJSON layer").
				Str("layer", name).
				Err(err).
				Log()
			continue
		}
		dataset.layers[layer.name] = layer
	}
	return dataset, nil
}

func layerNameFromFile(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type geoJSONDataset struct {
	layers     map[string]*geoJSONLayer
	unreadable map[string]string
}

func (d *geoJSONDataset) LayerNames() (readable, unreadable []string) {
	for name := range d.layers {
		readable = append(readable, name)
	}
	for name := range d.unreadable {
		unreadable = append(unreadable, name)
	}
	sort.Strings(readable)
	sort.Strings(unreadable)
	return readable, unreadable
}

func (d *geoJSONDataset) Layer(ctx context.Context, name string) (Layer, error) {
	if reason, ok := d.unreadable[name]; ok {
		return nil, &UnreadableLayerError{Layer: name, Reason: reason}
	}
	layer, ok := d.layers[name]
	if !ok {
		return nil, errs.Errorf("%w: %s", ErrLayerNotFound, name)
	}
	// Every call returns an independent filter state
	clone := *layer
	clone.filter = nil
	return &clone, nil
}

func (d *geoJSONDataset) Close() error {
	d.layers = nil
	return nil
}

type geoJSONLayer struct {
	name     string
	fields   []FieldDefn
	features []*geojson.Feature
	filter   *Filter
}

func readGeoJSONLayer(filename string) (*geoJSONLayer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	features, err := unmarshalGeoJSONFeatures(data)
	if err != nil {
		return nil, err
	}
	return &geoJSONLayer{
		name:     layerNameFromFile(filename),
		fields:   inferFields(features),
		features: features,
	}, nil
}

func unmarshalGeoJSONFeatures(data []byte) ([]*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	err := json.Unmarshal(data, &head)
	if err != nil {
		return nil, err
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return []*geojson.Feature{f}, nil
	}
	return nil, errs.Errorf("unsupported GeoJSON type %q", head.Type)
}

func (l *geoJSONLayer) Name() string        { return l.name }
func (l *geoJSONLayer) Fields() []FieldDefn { return l.fields }

func (l *geoJSONLayer) SetAttributeFilter(_ context.Context, filter string) error {
	if strings.TrimSpace(filter) == "" {
		l.filter = nil
		return nil
	}
	f, err := ParseFilter(filter, l.fields)
	if err != nil {
		return err
	}
	l.filter = f
	return nil
}

func (l *geoJSONLayer) Iterate(ctx context.Context, fn func(*Feature) error) error {
	var feature Feature
	for i, f := range l.features {
		if err := ctx.Err(); err != nil {
			return err
		}
		values := make([]any, len(l.fields))
		for j, field := range l.fields {
			values[j] = convertGeoJSONValue(f.Properties[field.Name], field.Type)
		}
		if !l.filter.Match(values) {
			continue
		}

		feature.FID = geoJSONFeatureID(f, i)
		feature.Values = values
		feature.Geometry = nil
		if f.Geometry != nil {
			wkb, err := ewkb.Marshal(f.Geometry, GeoJSONSRID)
			if err != nil {
				return errs.Errorf("can't encode geometry of feature %d: %w", feature.FID, err)
			}
			feature.Geometry = &Geometry{EWKB: wkb, SRID: GeoJSONSRID}
		}
		err := fn(&feature)
		if err != nil {
			return err
		}
	}
	return nil
}

func geoJSONFeatureID(f *geojson.Feature, index int) int64 {
	switch id := f.ID.(type) {
	case float64:
		return int64(id)
	case string:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n
		}
	}
	return int64(index + 1)
}

///////////////////////////////////////////////////////////////////////////////
// Field type inference

var (
	dateRegexp     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRegexp     = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2}(\.\d+)?)?$`)
	dateTimeRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}(:?\d{2})?)?$`)
)

// inferFields returns the fields of all feature properties sorted by name.
func inferFields(features []*geojson.Feature) []FieldDefn {
	types := make(map[string]FieldType)
	seen := make(map[string]bool)
	for _, f := range features {
		for name, value := range f.Properties {
			seen[name] = true
			t, ok := valueFieldType(value)
			if !ok {
				continue
			}
			if prev, exists := types[name]; exists {
				t = mergeFieldTypes(prev, t)
			}
			types[name] = t
		}
	}
	fields := make([]FieldDefn, 0, len(seen))
	for name := range seen {
		// Fields that are always null default to String
		fields = append(fields, FieldDefn{Name: name, Type: types[name]})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

func valueFieldType(value any) (FieldType, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case string:
		switch {
		case dateRegexp.MatchString(v):
			return FieldTypeDate, true
		case timeRegexp.MatchString(v):
			return FieldTypeTime, true
		case dateTimeRegexp.MatchString(v):
			return FieldTypeDateTime, true
		}
		return FieldTypeString, true
	case float64:
		if !isIntegral(v) {
			return FieldTypeReal, true
		}
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return FieldTypeInteger, true
		}
		return FieldTypeInteger64, true
	case bool:
		return FieldTypeInteger, true
	case []any:
		var elem FieldType
		hasElem := false
		for _, e := range v {
			t, ok := valueFieldType(e)
			if !ok {
				continue
			}
			switch t {
			case FieldTypeInteger, FieldTypeInteger64:
				t = FieldTypeInteger
			case FieldTypeReal:
			default:
				t = FieldTypeString
			}
			if hasElem {
				t = mergeFieldTypes(elem, t)
			}
			elem, hasElem = t, true
		}
		switch {
		case !hasElem || elem == FieldTypeString:
			return FieldTypeStringList, true
		case elem == FieldTypeInteger:
			return FieldTypeIntegerList, true
		}
		return FieldTypeRealList, true
	}
	// JSON objects
	return FieldTypeString, true
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}

func mergeFieldTypes(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if a > b {
		a, b = b, a
	}
	switch {
	case a == FieldTypeInteger && b == FieldTypeInteger64:
		return FieldTypeInteger64
	case (a == FieldTypeInteger || a == FieldTypeInteger64) && b == FieldTypeReal:
		return FieldTypeReal
	case a == FieldTypeDate && b == FieldTypeDateTime:
		return FieldTypeDateTime
	case a == FieldTypeIntegerList && b == FieldTypeRealList:
		return FieldTypeRealList
	case a.IsList() && b.IsList():
		return FieldTypeStringList
	}
	return FieldTypeString
}

// convertGeoJSONValue converts a decoded JSON value
// to the Go type documented for Feature.Values.
func convertGeoJSONValue(value any, fieldType FieldType) any {
	if value == nil {
		return nil
	}
	switch fieldType {
	case FieldTypeInteger, FieldTypeInteger64:
		switch v := value.(type) {
		case float64:
			return int64(v)
		case bool:
			if v {
				return int64(1)
			}
			return int64(0)
		}
		return nil

	case FieldTypeReal:
		if v, ok := value.(float64); ok {
			return v
		}
		return nil

	case FieldTypeStringList, FieldTypeIntegerList, FieldTypeRealList:
		elems, ok := value.([]any)
		if !ok {
			elems = []any{value}
		}
		list := make([]any, len(elems))
		for i, e := range elems {
			switch fieldType {
			case FieldTypeIntegerList:
				list[i] = convertGeoJSONValue(e, FieldTypeInteger)
			case FieldTypeRealList:
				list[i] = convertGeoJSONValue(e, FieldTypeReal)
			default:
				list[i] = convertGeoJSONValue(e, FieldTypeString)
			}
		}
		return list
	}

	// String and temporal types
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return string(data)
}
