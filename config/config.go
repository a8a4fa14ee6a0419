// Copyright 2025 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package config decodes a YAML description of a condition.State so that
// cmd/lootcheck (or any other embedder) can describe a game install
// declaratively instead of wiring one up in Go.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/lootcond/condition"
)

// File is the top-level shape of a condition.State description.
type File struct {
	// Game names one of condition.GameKind's constants, case-insensitively
	// ("SkyrimSE", "fallout4", ...).
	Game string `yaml:"game"`
	// DataPath is the game's primary plugin/data directory.
	DataPath string `yaml:"data_path"`
	// AdditionalDataPaths are alternate directories searched before DataPath,
	// first match wins.
	AdditionalDataPaths []string `yaml:"additional_data_paths,omitempty"`
	// ActivePlugins lists the filenames of every currently-enabled plugin.
	ActivePlugins []string `yaml:"active_plugins,omitempty"`
	// PluginVersions maps a plugin filename to the version string it
	// reports, for plugins whose version can't be read from a PE resource.
	PluginVersions map[string]string `yaml:"plugin_versions,omitempty"`
	// CachedCRCs maps a resolved path to a pre-computed CRC-32, expressed
	// as an 8-digit (or shorter) hex string, so repeat evaluations don't
	// have to re-read large archive files.
	CachedCRCs map[string]string `yaml:"cached_crcs,omitempty"`
}

// Load reads and decodes the YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return &f, nil
}

// BuildState constructs a condition.State from the decoded file.
func (f *File) BuildState() (*condition.State, error) {
	gameKind, err := condition.ParseGameKind(f.Game)
	if err != nil {
		return nil, errors.Wrapf(err, "config field \"game\"")
	}

	s := condition.NewState(gameKind, f.DataPath)
	s.SetAdditionalDataPaths(f.AdditionalDataPaths)
	s.SetActivePlugins(f.ActivePlugins)
	s.SetPluginVersions(f.PluginVersions)

	if len(f.CachedCRCs) > 0 {
		crcs := make(map[string]uint32, len(f.CachedCRCs))
		for path, hexValue := range f.CachedCRCs {
			v, err := strconv.ParseUint(hexValue, 16, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "config field \"cached_crcs\"[%q]", path)
			}
			crcs[path] = uint32(v)
		}
		if err := s.SetCachedCRCs(crcs); err != nil {
			return nil, err
		}
	}

	return s, nil
}
