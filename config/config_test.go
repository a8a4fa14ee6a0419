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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndBuildState(t *testing.T) {
	path := writeConfig(t, `
game: SkyrimSE
data_path: /games/skyrimse/Data
additional_data_paths:
  - /games/skyrimse/Data-override
active_plugins:
  - Skyrim.esm
  - Dawnguard.esm
plugin_versions:
  myplugin.esp: "1.2.3"
cached_crcs:
  BSAFile.bsa: "DEADBEEF"
`)

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "SkyrimSE", f.Game)
	require.Equal(t, "/games/skyrimse/Data", f.DataPath)
	require.Len(t, f.ActivePlugins, 2)

	state, err := f.BuildState()
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestBuildStateRejectsUnknownGame(t *testing.T) {
	path := writeConfig(t, `
game: not-a-real-game
data_path: /games/x/Data
`)
	f, err := Load(path)
	require.NoError(t, err)

	_, err = f.BuildState()
	require.Error(t, err)
}

func TestBuildStateRejectsBadCRCHex(t *testing.T) {
	path := writeConfig(t, `
game: Oblivion
data_path: /games/oblivion/Data
cached_crcs:
  a.esp: "not-hex"
`)
	f, err := Load(path)
	require.NoError(t, err)

	_, err = f.BuildState()
	require.Error(t, err)
}
