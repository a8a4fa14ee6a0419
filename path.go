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

package condition

import (
	"os"
	"path/filepath"
	"strings"
)

const ghostExtension = ".ghost"

// isUnghostedPluginExtension reports whether ext (a file extension including
// its leading dot, taken from a name with no ".ghost" suffix) is a plugin
// extension for the given game: ".esp"
// and ".esm" always, ".esl" only for games that support light plugins.
func isUnghostedPluginExtension(gameKind GameKind, ext string) bool {
	switch strings.ToLower(ext) {
	case ".esp", ".esm":
		return true
	case ".esl":
		return gameKind.SupportsLightPlugins()
	default:
		return false
	}
}

// hasPluginFileExtension reports whether path names a plugin file, including
// through a ".ghost" suffix whose stem is itself a plugin (checked
// recursively, since nothing stops a plugin named "x.esp.ghost.ghost" in
// principle).
func hasPluginFileExtension(gameKind GameKind, path string) bool {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ghostExtension) {
		stem := strings.TrimSuffix(path, ext)
		return hasPluginFileExtension(gameKind, stem)
	}
	return isUnghostedPluginExtension(gameKind, ext)
}

func addGhostExtension(path string) string {
	return path + ghostExtension
}

// resolvePath implements the path-resolution algorithm from spec.md §4.3:
// each additional data path is tried in order (first match wins, with ghost
// fallback for plugin extensions), then the primary data path, with the same
// ghost fallback applied whether or not the resulting path exists.
func resolvePath(s *State, p string) string {
	for _, root := range s.additionalDataPaths {
		candidate := filepath.Join(root, p)
		if pathExists(candidate) {
			return candidate
		}
		if isUnghostedPluginExtension(s.gameKind, filepath.Ext(candidate)) {
			ghosted := addGhostExtension(candidate)
			if pathExists(ghosted) {
				return ghosted
			}
		}
	}

	candidate := filepath.Join(s.dataPath, p)
	if !pathExists(candidate) && isUnghostedPluginExtension(s.gameKind, filepath.Ext(candidate)) {
		return addGhostExtension(candidate)
	}
	return candidate
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// normaliseEntryName strips a ".ghost" suffix from a directory entry's name
// when the unghosted stem is a plugin extension for gameKind, so that
// FileRegex/Many can match ghosted plugins against a regex written for their
// unghosted name.
func normaliseEntryName(gameKind GameKind, name string) string {
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ghostExtension) {
		return name
	}
	stem := strings.TrimSuffix(name, ext)
	if isUnghostedPluginExtension(gameKind, filepath.Ext(stem)) {
		return stem
	}
	return name
}

// isInGamePath reports whether p, interpreted as a slash-separated relative
// path, stays within the implicit game directory root: no filesystem-root
// prefix, no absolute root, and never two consecutive ".." components. "."
// components are ignored.
func isInGamePath(p string) bool {
	slashed := filepath.ToSlash(p)
	if strings.HasPrefix(slashed, "/") {
		return false
	}
	// A leading drive letter ("C:/...", "C:\...") is a Windows root prefix,
	// checked independently of the host OS since a game's Data directory is
	// conventionally described using Windows path conventions regardless of
	// which platform this library runs on.
	if len(slashed) >= 2 && slashed[1] == ':' && isASCIILetter(slashed[0]) {
		return false
	}

	parts := strings.Split(slashed, "/")
	previousWasParent := false
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if previousWasParent {
				return false
			}
			previousWasParent = true
		default:
			previousWasParent = false
		}
	}
	return true
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
