package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/domonda/go-errs"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

const (
	ErrLayerNotFound  errs.Sentinel = "layer not found"
	ErrUnknownLocator errs.Sentinel = "no driver can open the source"
	ErrInvalidFilter  errs.Sentinel = "invalid attribute filter"
)

// FieldType is the attribute type of a source field.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInteger
	FieldTypeInteger64
	FieldTypeReal
	FieldTypeDate
	FieldTypeTime
	FieldTypeDateTime
	FieldTypeStringList
	FieldTypeIntegerList
	FieldTypeRealList
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeString:
		return "String"
	case FieldTypeInteger:
		return "Integer"
	case FieldTypeInteger64:
		return "Integer64"
	case FieldTypeReal:
		return "Real"
	case FieldTypeDate:
		return "Date"
	case FieldTypeTime:
		return "Time"
	case FieldTypeDateTime:
		return "DateTime"
	case FieldTypeStringList:
		return "StringList"
	case FieldTypeIntegerList:
		return "IntegerList"
	case FieldTypeRealList:
		return "RealList"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsTemporal returns true for date, time and datetime fields.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeTime || t == FieldTypeDateTime
}

// IsList returns true for the list field types.
func (t FieldType) IsList() bool {
	return t == FieldTypeStringList || t == FieldTypeIntegerList || t == FieldTypeRealList
}

// FieldDefn defines an attribute field of a layer.
type FieldDefn struct {
	Name string
	Type FieldType
}

// Geometry of a feature as EWKB with the SRID of the geometry.
type Geometry struct {
	EWKB []byte
	SRID int
}

// Feature is one record of a layer.
//
// Values has one entry per field of the layer in the order of Layer.Fields.
// Unset values are nil, set values have the following Go types:
//   - FieldTypeString: string
//   - FieldTypeInteger, FieldTypeInteger64: int64
//   - FieldTypeReal: float64
//   - FieldTypeDate, FieldTypeTime, FieldTypeDateTime: string
//     in the ISO 8601 format YYYY-MM-DD, HH:MM:SS or YYYY-MM-DD HH:MM:SS
//   - list types: []any with string, int64, float64 or nil elements
type Feature struct {
	FID      int64
	Values   []any
	Geometry *Geometry
}

// Layer is a named collection of features with a common schema.
type Layer interface {
	Name() string
	Fields() []FieldDefn

	// SetAttributeFilter restricts the features returned by Iterate
	// to those matching the filter expression.
	// An empty filter removes the restriction.
	// The returned error text comes from the driver.
	// Drivers that validate the filter with a server use ctx.
	SetAttributeFilter(ctx context.Context, filter string) error

	// Iterate calls fn for every feature matching the attribute filter.
	// The Feature passed to fn is only valid during the call.
	Iterate(ctx context.Context, fn func(*Feature) error) error
}

// Dataset is an opened source containing layers.
type Dataset interface {
	// LayerNames returns the names of the layers that can be read
	// and the names of layers that exist but can't be read.
	LayerNames() (readable, unreadable []string)

	// Layer returns the layer with name.
	// Returns an error wrapping ErrLayerNotFound if there is no such layer,
	// or an UnreadableLayerError if the layer exists but can't be read.
	Layer(ctx context.Context, name string) (Layer, error)

	Close() error
}

// Driver opens datasets of one kind of source.
type Driver interface {
	Name() string

	// CanOpen returns true if the driver recognizes the locator.
	CanOpen(locator string) bool

	Open(ctx context.Context, locator string) (Dataset, error)
}

// UnreadableLayerError is returned for layers that exist
// in a dataset but can't be read.
type UnreadableLayerError struct {
	Layer  string
	Reason string
}

func (e *UnreadableLayerError) Error() string {
	return fmt.Sprintf("layer %q exists but can't be read: %s", e.Layer, e.Reason)
}

// Drivers is a list of drivers tried in order.
type Drivers []Driver

// DefaultDrivers returns the PostGIS and the GeoJSON driver.
func DefaultDrivers() Drivers {
	return Drivers{
		PostGISDriver{},
		GeoJSONDriver{},
	}
}

// Open opens locator with the first driver that can open it.
func (d Drivers) Open(ctx context.Context, locator string) (ds Dataset, err error) {
	defer errs.WrapWithFuncParams(&err, ctx, redactLocator(locator))

	for _, driver := range d {
		if driver.CanOpen(locator) {
			log.Debug("Opening source").
				Str("driver", driver.Name()).
				Str("locator", redactLocator(locator)).
				Log()
			return driver.Open(ctx, locator)
		}
	}
	return nil, ErrUnknownLocator
}

// redactLocator removes passwords from connection strings.
func redactLocator(locator string) string {
	if i := strings.Index(locator, "password="); i >= 0 {
		end := strings.IndexAny(locator[i:], " &")
		if end < 0 {
			return locator[:i] + "password=xxx"
		}
		return locator[:i] + "password=xxx" + locator[i+end:]
	}
	if scheme := strings.Index(locator, "://"); scheme >= 0 {
		rest := locator[scheme+3:]
		at := strings.IndexByte(rest, '@')
		colon := strings.IndexByte(rest, ':')
		if at > 0 && colon >= 0 && colon < at {
			return locator[:scheme+3] + rest[:colon] + ":xxx" + rest[at:]
		}
	}
	return locator
}
