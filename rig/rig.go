// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package rig is the semantic layer over raw rig targets: named
// facial features ("nose_width", "jaw_width") that expand into
// ordered sets of target mutations, and presets that bundle feature
// values into recognizable face shapes.
//
// Feature inputs are normalized to [-1, 1] and clamp rather than
// fail; the raw target layer underneath still range-checks every
// resulting mutation. Rig-specific alias profiles (metahuman, rigify,
// generic) resolve generic control names to concrete target paths.
package rig

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rigforge/rigbridge/protocol"
)

//go:embed defaults/features.yaml
var defaultFeaturesYAML []byte

//go:embed defaults/presets.yaml
var defaultPresetsYAML []byte

// FeatureRange is the normalized input range for every feature.
const (
	FeatureMin = -1.0
	FeatureMax = 1.0
)

// Operation is one target mutation produced by a feature. Control
// names resolve through the active profile's alias map; Channel
// addresses the transform channel under the resolved path and is
// empty for directly-addressed targets like shape keys.
type Operation struct {
	Control    string  `yaml:"control"`
	Channel    string  `yaml:"channel"`
	Multiplier float64 `yaml:"multiplier"`
}

// Feature is a named semantic facial feature.
type Feature struct {
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	Operations  []Operation `yaml:"operations"`
}

// Preset is a named combination of feature values.
type Preset struct {
	Description string             `yaml:"description"`
	Features    map[string]float64 `yaml:"features"`
}

// featureDocument is the YAML layout of a feature map file.
type featureDocument struct {
	Features map[string]Feature           `yaml:"features"`
	Profiles map[string]map[string]string `yaml:"profiles"`
}

// presetDocument is the YAML layout of a presets file.
type presetDocument struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Edit is one resolved target mutation: the value written is the
// target's rest value plus Offset.
type Edit struct {
	Path   string
	Offset float64
}

// Definition is a loaded feature map, alias profile, and preset set.
type Definition struct {
	features map[string]Feature
	aliases  map[string]string
	presets  map[string]Preset
	profile  string
}

// Load builds a Definition. Empty featurePath/presetPath use the
// embedded defaults; profile selects the alias map and must exist in
// the feature document.
func Load(featurePath, presetPath, profile string) (*Definition, error) {
	featureData := defaultFeaturesYAML
	if featurePath != "" {
		data, err := os.ReadFile(featurePath)
		if err != nil {
			return nil, fmt.Errorf("reading feature map: %w", err)
		}
		featureData = data
	}
	var features featureDocument
	if err := yaml.Unmarshal(featureData, &features); err != nil {
		return nil, fmt.Errorf("parsing feature map: %w", err)
	}
	if len(features.Features) == 0 {
		return nil, fmt.Errorf("feature map defines no features")
	}

	aliases, ok := features.Profiles[profile]
	if !ok {
		known := make([]string, 0, len(features.Profiles))
		for name := range features.Profiles {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown rig profile %q (have %v)", profile, known)
	}

	presetData := defaultPresetsYAML
	if presetPath != "" {
		data, err := os.ReadFile(presetPath)
		if err != nil {
			return nil, fmt.Errorf("reading presets: %w", err)
		}
		presetData = data
	}
	var presets presetDocument
	if err := yaml.Unmarshal(presetData, &presets); err != nil {
		return nil, fmt.Errorf("parsing presets: %w", err)
	}

	definition := &Definition{
		features: features.Features,
		aliases:  aliases,
		presets:  presets.Presets,
		profile:  profile,
	}
	if err := definition.validate(); err != nil {
		return nil, err
	}
	return definition, nil
}

// validate checks cross-references so a broken map fails at load,
// not mid-command.
func (d *Definition) validate() error {
	for featureName, feature := range d.features {
		if len(feature.Operations) == 0 {
			return fmt.Errorf("feature %q has no operations", featureName)
		}
		for _, operation := range feature.Operations {
			if _, ok := d.aliases[operation.Control]; !ok {
				return fmt.Errorf("feature %q references control %q absent from profile %q",
					featureName, operation.Control, d.profile)
			}
			if operation.Multiplier == 0 {
				return fmt.Errorf("feature %q control %q has zero multiplier", featureName, operation.Control)
			}
		}
	}
	for presetName, preset := range d.presets {
		for featureName := range preset.Features {
			if _, ok := d.features[featureName]; !ok {
				return fmt.Errorf("preset %q references unknown feature %q", presetName, featureName)
			}
		}
	}
	return nil
}

// Profile returns the active alias profile name.
func (d *Definition) Profile() string { return d.profile }

// FeatureInfo describes one feature for list_features responses.
type FeatureInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// Features enumerates features sorted by name.
func (d *Definition) Features() []FeatureInfo {
	result := make([]FeatureInfo, 0, len(d.features))
	for name, feature := range d.features {
		result = append(result, FeatureInfo{
			Name:        name,
			Description: feature.Description,
			Category:    feature.Category,
			Min:         FeatureMin,
			Max:         FeatureMax,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// PresetInfo describes one preset for list_presets responses.
type PresetInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Features    map[string]float64 `json:"features"`
}

// Presets enumerates presets sorted by name.
func (d *Definition) Presets() []PresetInfo {
	result := make([]PresetInfo, 0, len(d.presets))
	for name, preset := range d.presets {
		result = append(result, PresetInfo{
			Name:        name,
			Description: preset.Description,
			Features:    preset.Features,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ExpandFeature resolves a feature value into target edits, in the
// feature map's declared operation order. The value clamps to
// [FeatureMin, FeatureMax]; clamped reports whether it did. Unknown
// names fail not_found with a typo suggestion when one is plausible.
func (d *Definition) ExpandFeature(name string, value float64) (edits []Edit, clamped bool, err error) {
	normalized := Normalize(name)
	feature, ok := d.features[normalized]
	if !ok {
		return nil, false, d.unknownName(normalized, "feature", d.featureNames())
	}

	if value < FeatureMin {
		value, clamped = FeatureMin, true
	} else if value > FeatureMax {
		value, clamped = FeatureMax, true
	}

	edits = make([]Edit, 0, len(feature.Operations))
	for _, operation := range feature.Operations {
		path := d.aliases[operation.Control]
		if operation.Channel != "" {
			path = path + "/" + operation.Channel
		}
		edits = append(edits, Edit{Path: path, Offset: value * operation.Multiplier})
	}
	return edits, clamped, nil
}

// ExpandPreset resolves a preset into target edits: each feature in
// name order, each expanded like ExpandFeature.
func (d *Definition) ExpandPreset(name string) ([]Edit, error) {
	normalized := Normalize(name)
	preset, ok := d.presets[normalized]
	if !ok {
		return nil, d.unknownName(normalized, "preset", d.presetNames())
	}

	featureNames := make([]string, 0, len(preset.Features))
	for featureName := range preset.Features {
		featureNames = append(featureNames, featureName)
	}
	sort.Strings(featureNames)

	var edits []Edit
	for _, featureName := range featureNames {
		featureEdits, _, err := d.ExpandFeature(featureName, preset.Features[featureName])
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", normalized, err)
		}
		edits = append(edits, featureEdits...)
	}
	return edits, nil
}

func (d *Definition) featureNames() []string {
	names := make([]string, 0, len(d.features))
	for name := range d.features {
		names = append(names, name)
	}
	return names
}

func (d *Definition) presetNames() []string {
	names := make([]string, 0, len(d.presets))
	for name := range d.presets {
		names = append(names, name)
	}
	return names
}

// unknownName builds a not_found error, with a suggestion when the
// name looks like a typo of something known.
func (d *Definition) unknownName(name, kind string, candidates []string) error {
	if suggestion := Suggest(name, candidates); suggestion != "" {
		return protocol.Errorf(protocol.CodeNotFound,
			"unknown %s %q (did you mean %q?)", kind, name, suggestion)
	}
	return protocol.Errorf(protocol.CodeNotFound, "unknown %s %q", kind, name)
}
