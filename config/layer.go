package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// BulkRemoveMethod selects how bulk mode removes
// the existing rows of a target table.
type BulkRemoveMethod string

const (
	BulkRemoveDelete   BulkRemoveMethod = "delete"
	BulkRemoveTruncate BulkRemoveMethod = "truncate"
)

// Layer connects a layer of a source dataset
// with a target table.
type Layer struct {
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Source is the locator of the source dataset,
	// like a GeoJSON file path or a PG: connection string.
	Source      string `yaml:"source"       json:"-"`
	SourceLayer string `yaml:"source_layer" json:"sourceLayer"`

	TargetTableSchema string `yaml:"target_table_schema" json:"targetTableSchema"`
	TargetTableName   string `yaml:"target_table_name"   json:"targetTableName"`

	// Filter is always applied when pulling features from the source.
	Filter string `yaml:"filter" json:"filter,omitempty"`

	AllowFeatureDeletion bool `yaml:"allow_feature_deletion" json:"allowFeatureDeletion"`
	IgnoreFailures       bool `yaml:"ignore_failures"        json:"ignoreFailures"`

	// PrimaryKeyColumns overrides the primary key of the target table.
	PrimaryKeyColumns []string `yaml:"primary_key_columns" json:"primaryKeyColumns,omitempty"`

	// BulkMode replaces all target rows instead of merging them.
	BulkMode   bool             `yaml:"bulk_mode"   json:"bulkMode"`
	BulkRemove BulkRemoveMethod `yaml:"bulk_remove" json:"bulkRemove,omitempty"`
}

// Validate returns a ConfigurationError if the layer is incomplete.
func (l *Layer) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return configErrorf("layer without a name")
	}
	if l.Source == "" {
		return configErrorf("layer %q: source is required", l.Name)
	}
	if l.SourceLayer == "" {
		return configErrorf("layer %q: source_layer is required", l.Name)
	}
	if l.TargetTableSchema == "" {
		return configErrorf("layer %q: target_table_schema is required", l.Name)
	}
	if l.TargetTableName == "" {
		return configErrorf("layer %q: target_table_name is required", l.Name)
	}
	for _, col := range l.PrimaryKeyColumns {
		if strings.TrimSpace(col) == "" {
			return configErrorf("layer %q: empty name in primary_key_columns", l.Name)
		}
	}
	switch l.BulkRemove {
	case "", BulkRemoveDelete, BulkRemoveTruncate:
	default:
		return configErrorf("layer %q: invalid bulk_remove %q, must be %q or %q", l.Name, l.BulkRemove, BulkRemoveDelete, BulkRemoveTruncate)
	}
	return nil
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (l *Layer) String() string {
	if l == nil {
		return "nil Layer"
	}
	return fmt.Sprintf("Layer %s (%s -> %s.%s)", l.Name, l.SourceLayer, l.TargetTableSchema, l.TargetTableName)
}

func (l *Layer) clone() Layer {
	c := *l
	c.PrimaryKeyColumns = slices.Clone(l.PrimaryKeyColumns)
	return c
}

// Layers is an immutable lookup of layers by name.
// The zero value contains no layers.
type Layers struct {
	byName map[string]*Layer
	sorted []*Layer
}

// NewLayers validates layers and returns them as Layers.
// Layer names must be unique.
func NewLayers(layers []Layer) (Layers, error) {
	l := Layers{byName: make(map[string]*Layer, len(layers))}
	for i := range layers {
		layer := layers[i]
		err := layer.Validate()
		if err != nil {
			return Layers{}, err
		}
		if _, exists := l.byName[layer.Name]; exists {
			return Layers{}, configErrorf("layer %q is defined more than once", layer.Name)
		}
		layer.PrimaryKeyColumns = slices.Clone(layer.PrimaryKeyColumns)
		l.byName[layer.Name] = &layer
		l.sorted = append(l.sorted, &layer)
	}
	sort.Slice(l.sorted, func(i, j int) bool { return l.sorted[i].Name < l.sorted[j].Name })
	return l, nil
}

// Get returns a copy of the layer with name.
func (l Layers) Get(name string) (Layer, bool) {
	layer, ok := l.byName[name]
	if !ok {
		return Layer{}, false
	}
	return layer.clone(), true
}

// All returns copies of all layers sorted by name.
func (l Layers) All() []Layer {
	all := make([]Layer, len(l.sorted))
	for i, layer := range l.sorted {
		all[i] = layer.clone()
	}
	return all
}

func (l Layers) Len() int {
	return len(l.sorted)
}
