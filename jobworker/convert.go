package jobworker

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/domonda/go-layersync/source"
)

// sourceFieldSQLType returns the server type
// that values of a source field are sent as.
func sourceFieldSQLType(t source.FieldType) string {
	switch t {
	case source.FieldTypeInteger:
		return "integer"
	case source.FieldTypeInteger64:
		return "bigint"
	case source.FieldTypeReal:
		return "double precision"
	case source.FieldTypeDate:
		return "date"
	case source.FieldTypeTime:
		return "time"
	case source.FieldTypeDateTime:
		return "timestamp"
	case source.FieldTypeStringList:
		return "text[]"
	case source.FieldTypeIntegerList:
		return "bigint[]"
	case source.FieldTypeRealList:
		return "double precision[]"
	}
	return "text"
}

// sourceParamSQLType returns the server type a value of a source field
// is sent as for a target column of type targetPgType.
// Offsets of datetime and time values are only kept
// for target columns with time zone.
func sourceParamSQLType(t source.FieldType, targetPgType string) string {
	switch {
	case t == source.FieldTypeDateTime && targetPgType == "timestamp with time zone":
		return "timestamptz"
	case t == source.FieldTypeTime && targetPgType == "time with time zone":
		return "timetz"
	}
	return sourceFieldSQLType(t)
}

// fieldParam converts a source value to a query parameter
// in the text format of sourceFieldSQLType.
// Returns nil for NULL.
func fieldParam(value any, fieldType source.FieldType) any {
	if value == nil {
		return nil
	}
	if fieldType.IsList() {
		elems, ok := value.([]any)
		if !ok {
			elems = []any{value}
		}
		return arrayLiteral(elems)
	}
	str, ok := scalarText(value)
	if !ok {
		return nil
	}
	if fieldType.IsTemporal() && strings.TrimSpace(str) == "" {
		return nil
	}
	return str
}

// scalarText formats a scalar value in the server's text format.
func scalarText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return formatFloat(v), true
	case float32:
		return formatFloat(float64(v)), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return v.Format("2006-01-02 15:04:05.999999999Z07:00"), true
	case []byte:
		return string(v), true
	}
	return fmt.Sprint(value), true
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// arrayLiteral formats elems as server array literal
// with every element quoted and nil elements as NULL.
func arrayLiteral(elems []any) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, elem := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		str, ok := scalarText(elem)
		if !ok {
			b.WriteString("NULL")
			continue
		}
		b.WriteByte('"')
		for _, r := range str {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// geometryParam returns the EWKB of geom as hex string
// or nil for a missing geometry.
func geometryParam(geom *source.Geometry) any {
	if geom == nil || len(geom.EWKB) == 0 {
		return nil
	}
	return hex.EncodeToString(geom.EWKB)
}
