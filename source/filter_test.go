package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var filterTestFields = []FieldDefn{
	{Name: "Name", Type: FieldTypeString},
	{Name: "count", Type: FieldTypeInteger},
	{Name: "area", Type: FieldTypeReal},
	{Name: "built", Type: FieldTypeDate},
}

func TestFilterMatch(t *testing.T) {
	row := []any{"Main Street", int64(12), 3.5, "2020-05-01"}
	nullRow := []any{nil, nil, nil, nil}

	tests := []struct {
		filter  string
		row     []any
		matches bool
	}{
		{`name = 'Main Street'`, row, true},
		{`"Name" = 'Main Street'`, row, true},
		{`NAME <> 'Main Street'`, row, false},
		{`count > 10`, row, true},
		{`count >= 12 AND count <= 12`, row, true},
		{`count < 12 OR area = 3.5`, row, true},
		{`count == 12`, row, true},
		{`count != 12`, row, false},
		{`area > -1`, row, true},
		{`NOT (count > 10)`, row, false},
		{`name LIKE 'main%'`, row, true},
		{`name LIKE 'Main_Street'`, row, true},
		{`name NOT LIKE '%Street'`, row, false},
		{`name LIKE 'Main.*'`, row, false},
		{`count IN (1, 2, 12)`, row, true},
		{`count NOT IN (1, 2)`, row, true},
		{`name IN ('a', 'b')`, row, false},
		{`count BETWEEN 10 AND 20`, row, true},
		{`count NOT BETWEEN 10 AND 20`, row, false},
		{`built >= '2020-01-01'`, row, true},
		{`name IS NULL`, row, false},
		{`name IS NOT NULL`, row, true},
		{`count = '12'`, row, true},

		// Three-valued logic
		{`name IS NULL`, nullRow, true},
		{`name = 'x'`, nullRow, false},
		{`NOT (name = 'x')`, nullRow, false},
		{`name = 'x' OR count IS NULL`, nullRow, true},
		{`NOT (name = 'x' AND count = 1)`, nullRow, false},
		{`NOT (name = 'x' AND 1 = 2)`, nullRow, true},
		{`count NOT IN (1, NULL)`, row, false},
		{`count IN (12, NULL)`, row, true},
		{`name = NULL`, row, false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := ParseFilter(tt.filter, filterTestFields)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, f.Match(tt.row))
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	for _, filter := range []string{
		`unknown = 1`,
		`name =`,
		`name = 'unterminated`,
		`(count > 1`,
		`count > 1)`,
		`count 1`,
		`name LIKE count`,
		`count IN 1, 2`,
		`count BETWEEN 1 OR 2`,
		`name IS 'x'`,
		`count ! 1`,
		`count > 1 AND`,
		`count = 1; drop table x`,
	} {
		t.Run(filter, func(t *testing.T) {
			_, err := ParseFilter(filter, filterTestFields)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFilter))
			var filterErr *FilterError
			require.True(t, errors.As(err, &filterErr))
			assert.Equal(t, filter, filterErr.Filter)
		})
	}

	_, err := ParseFilter(`unknown = 1`, filterTestFields)
	assert.Contains(t, err.Error(), `"unknown" not recognised as an available field`)
}

func TestNilFilter(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match([]any{"x"}))
	assert.Equal(t, "", f.String())
}
