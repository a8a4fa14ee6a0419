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
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// foldKey returns the Unicode case-folded form of s, used everywhere a
// lowercased cache or set key is required: plugin filenames, regex source
// text, and resolved path strings. Unicode folding (rather than
// strings.ToLower) is used here because these values round-trip through a
// hash map key, and ASCII-only lowercasing under-folds the rare plugin name
// containing non-ASCII characters.
func foldKey(s string) string {
	return foldCaser.String(s)
}

// GameKind identifies one of the supported games. Its integer values are
// part of the wire contract a future C ABI layer would expose, so the order
// of these constants must never change.
type GameKind int

const (
	Oblivion GameKind = iota
	Skyrim
	SkyrimSE
	SkyrimVR
	Fallout3
	FalloutNV
	Fallout4
	Fallout4VR
	Morrowind
	Starfield
)

// SupportsLightPlugins reports whether g's plugin loader recognises the
// ".esl" light-plugin extension.
func (g GameKind) SupportsLightPlugins() bool {
	switch g {
	case SkyrimSE, SkyrimVR, Fallout4, Fallout4VR, Starfield:
		return true
	default:
		return false
	}
}

func (g GameKind) String() string {
	switch g {
	case Oblivion:
		return "oblivion"
	case Skyrim:
		return "skyrim"
	case SkyrimSE:
		return "skyrimse"
	case SkyrimVR:
		return "skyrimvr"
	case Fallout3:
		return "fallout3"
	case FalloutNV:
		return "falloutnv"
	case Fallout4:
		return "fallout4"
	case Fallout4VR:
		return "fallout4vr"
	case Morrowind:
		return "morrowind"
	case Starfield:
		return "starfield"
	default:
		return "unknown"
	}
}

// ParseGameKind maps a config file's game-kind name (case-insensitively) to
// its GameKind constant.
func ParseGameKind(name string) (GameKind, error) {
	switch strings.ToLower(name) {
	case "oblivion":
		return Oblivion, nil
	case "skyrim":
		return Skyrim, nil
	case "skyrimse":
		return SkyrimSE, nil
	case "skyrimvr":
		return SkyrimVR, nil
	case "fallout3":
		return Fallout3, nil
	case "falloutnv":
		return FalloutNV, nil
	case "fallout4":
		return Fallout4, nil
	case "fallout4vr":
		return Fallout4VR, nil
	case "morrowind":
		return Morrowind, nil
	case "starfield":
		return Starfield, nil
	default:
		return 0, errors.Newf("unrecognised game kind %q", name)
	}
}

// poisonableRWMutex is a sync.RWMutex that remembers whether a writer
// panicked while holding the write lock. Go's sync.RWMutex does not poison
// itself the way Rust's std::sync::RwLock does, but spec requires poisoned
// locks to be surfaced rather than silently recovered from, so this wrapper
// reproduces that behaviour explicitly.
type poisonableRWMutex struct {
	mu       sync.RWMutex
	poisoned bool
}

func (m *poisonableRWMutex) withRLock(f func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.poisoned {
		return ErrPoisonedLock
	}
	return f()
}

func (m *poisonableRWMutex) withWLock(f func()) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poisoned {
		return ErrPoisonedLock
	}
	defer func() {
		if r := recover(); r != nil {
			m.poisoned = true
			err = ErrPoisonedLock
		}
	}()
	f()
	return nil
}

// State is the process-wide per-caller context that conditions are
// evaluated against: which game, which directories to search, which
// plugins are active, what version each plugin reports, and the two
// caches that make repeated evaluation cheap.
//
// State's immutable fields (game kind, data path, additional data paths,
// active plugins, plugin versions) may be read from any number of
// goroutines without synchronisation once construction has finished; only
// the two caches are interior-mutable, and each is guarded by its own
// single-writer/many-reader lock.
type State struct {
	gameKind            GameKind
	dataPath            string
	additionalDataPaths []string
	activePlugins       map[string]struct{}
	pluginVersions      map[string]string

	crcCacheMu     poisonableRWMutex
	crcCache       map[string]uint32
	conditionMu    poisonableRWMutex
	conditionCache map[string]bool
}

// NewState constructs a State for the given game and primary data
// directory. The data path is not required to exist at construction time.
func NewState(gameKind GameKind, dataPath string) *State {
	return &State{
		gameKind:       gameKind,
		dataPath:       dataPath,
		activePlugins:  make(map[string]struct{}),
		pluginVersions: make(map[string]string),
		crcCache:       make(map[string]uint32),
		conditionCache: make(map[string]bool),
	}
}

// SetActivePlugins replaces the set of active plugin filenames. Names are
// case-folded before storage, matching the case-insensitive semantics of
// ActivePath/ActiveRegex.
func (s *State) SetActivePlugins(names []string) {
	active := make(map[string]struct{}, len(names))
	for _, n := range names {
		active[foldKey(n)] = struct{}{}
	}
	s.activePlugins = active
}

// SetPluginVersions replaces the mapping from plugin filename to the
// version string the embedder has recorded for it (e.g. from a plugin's
// header fields). Keys are case-folded.
func (s *State) SetPluginVersions(versions map[string]string) {
	m := make(map[string]string, len(versions))
	for k, v := range versions {
		m[foldKey(k)] = v
	}
	s.pluginVersions = m
}

// SetAdditionalDataPaths replaces the ordered list of alternate data
// directories searched before the primary data path, first match wins.
func (s *State) SetAdditionalDataPaths(paths []string) {
	s.additionalDataPaths = append([]string(nil), paths...)
}

// SetCachedCRCs replaces the contents of the CRC-32 cache wholesale. Keys
// are case-folded resolved path strings. This cache is never invalidated by
// the library itself; the embedder seeds and clears it as it sees fit.
func (s *State) SetCachedCRCs(crcs map[string]uint32) error {
	return s.crcCacheMu.withWLock(func() {
		m := make(map[string]uint32, len(crcs))
		for k, v := range crcs {
			m[foldKey(k)] = v
		}
		s.crcCache = m
	})
}

// ClearConditionCache drops every cached Function evaluation result. Callers
// are expected to call this whenever external state that could affect
// evaluation (active plugins, filesystem contents, ...) has changed; the
// library never does so on its own. Clearing the condition cache never
// clears the CRC cache: the two caches have independent lifetimes.
func (s *State) ClearConditionCache() error {
	return s.conditionMu.withWLock(func() {
		s.conditionCache = make(map[string]bool)
	})
}

func (s *State) lookupCRC(key string) (uint32, bool, error) {
	var crc uint32
	var ok bool
	err := s.crcCacheMu.withRLock(func() error {
		crc, ok = s.crcCache[key]
		return nil
	})
	return crc, ok, err
}

func (s *State) storeCRC(key string, crc uint32) error {
	return s.crcCacheMu.withWLock(func() {
		s.crcCache[key] = crc
	})
}

func (s *State) lookupCondition(key string) (bool, bool, error) {
	var result bool
	var ok bool
	err := s.conditionMu.withRLock(func() error {
		result, ok = s.conditionCache[key]
		return nil
	})
	return result, ok, err
}

func (s *State) storeCondition(key string, result bool) error {
	return s.conditionMu.withWLock(func() {
		s.conditionCache[key] = result
	})
}
