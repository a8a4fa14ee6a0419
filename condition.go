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

// Package condition parses and evaluates LOOT-style plugin metadata
// condition expressions against a State describing an installed game.
package condition

import (
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lootcond/condition/version"
)

// Expression is an ordered list of CompoundCondition joined by logical OR.
type Expression struct {
	compounds []CompoundCondition
}

// Eval evaluates e against s: true iff any of its compound conditions is
// true. Evaluation short-circuits: once a true compound condition is found,
// later ones are not evaluated.
func (e Expression) Eval(s *State) (bool, error) {
	for _, cc := range e.compounds {
		result, err := cc.Eval(s)
		if err != nil {
			return false, err
		}
		if result {
			return true, nil
		}
	}
	return false, nil
}

// String renders e back into condition syntax; ParseExpression(e.String()) produces
// an equal AST whenever e was itself produced by Parse.
func (e Expression) String() string {
	parts := make([]string, len(e.compounds))
	for i, cc := range e.compounds {
		parts[i] = cc.String()
	}
	return strings.Join(parts, " or ")
}

// CompoundCondition is an ordered list of Condition joined by logical AND.
type CompoundCondition struct {
	conditions []Condition
}

// Eval evaluates cc against s: true iff every condition is true. Evaluation
// short-circuits: once a false condition is found, later ones are not
// evaluated (and any error they would have raised is never observed).
func (cc CompoundCondition) Eval(s *State) (bool, error) {
	for _, c := range cc.conditions {
		result, err := c.Eval(s)
		if err != nil {
			return false, err
		}
		if !result {
			return false, nil
		}
	}
	return true, nil
}

func (cc CompoundCondition) String() string {
	parts := make([]string, len(cc.conditions))
	for i, c := range cc.conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}

type conditionKind int

const (
	condFunction conditionKind = iota
	condInvertedFunction
	condExpression
	condInvertedExpression
)

// Condition is a tagged variant over a plain or negated Function, and a
// plain or negated parenthesised sub-Expression.
type Condition struct {
	kind       conditionKind
	function   Function
	expression *Expression
}

// Eval evaluates c against s.
func (c Condition) Eval(s *State) (bool, error) {
	switch c.kind {
	case condFunction:
		return evalFunction(s, c.function)
	case condInvertedFunction:
		result, err := evalFunction(s, c.function)
		if err != nil {
			return false, err
		}
		return !result, nil
	case condExpression:
		return c.expression.Eval(s)
	case condInvertedExpression:
		result, err := c.expression.Eval(s)
		if err != nil {
			return false, err
		}
		return !result, nil
	default:
		return false, nil
	}
}

func (c Condition) String() string {
	switch c.kind {
	case condFunction:
		return c.function.String()
	case condInvertedFunction:
		return "not " + c.function.String()
	case condExpression:
		return "(" + c.expression.String() + ")"
	case condInvertedExpression:
		return "not (" + c.expression.String() + ")"
	default:
		return ""
	}
}

// evalFunction consults s's condition cache before computing f's result,
// and stores the result afterwards, per spec.md §4.2's caching discipline.
func evalFunction(s *State, f Function) (bool, error) {
	key := f.cacheKey()

	if result, ok, err := s.lookupCondition(key); err != nil {
		return false, err
	} else if ok {
		return result, nil
	}

	result, err := computeFunction(s, f)
	if err != nil {
		return false, err
	}

	if err := s.storeCondition(key, result); err != nil {
		return false, err
	}
	return result, nil
}

func computeFunction(s *State, f Function) (bool, error) {
	switch f.kind {
	case kindFilePath:
		return evalFilePath(s, f.path)
	case kindFileRegex:
		return evalFileRegex(s, f.path, f.regex, false)
	case kindActivePath:
		return evalActivePath(s, f.path), nil
	case kindActiveRegex:
		// Active plugin names are stored case-folded, so match them
		// case-insensitively.
		return evalActiveRegex(s, regexp.MustCompile("(?i)"+f.regex.String()), false), nil
	case kindMany:
		return evalFileRegex(s, f.path, f.regex, true)
	case kindManyActive:
		return evalActiveRegex(s, regexp.MustCompile("(?i)"+f.regex.String()), true), nil
	case kindChecksum:
		return evalChecksum(s, f.path, f.crc)
	case kindVersion:
		return evalVersion(s, f.path, f.version, f.operator, readFileVersion)
	case kindProductVersion:
		return evalVersion(s, f.path, f.version, f.operator, readProductVersion)
	case kindReadable:
		return evalReadable(s, f.path), nil
	default:
		return false, nil
	}
}

const literalLOOT = "LOOT"

func evalFilePath(s *State, p string) (bool, error) {
	if p == literalLOOT {
		return true, nil
	}
	return pathExists(resolvePath(s, p)), nil
}

func evalActivePath(s *State, p string) bool {
	name := foldKey(filepath.Base(p))
	_, ok := s.activePlugins[name]
	return ok
}

func evalActiveRegex(s *State, r regexMatcher, requireMany bool) bool {
	count := 0
	for name := range s.activePlugins {
		if r.MatchString(name) {
			count++
			if !requireMany {
				return true
			}
			if count > 1 {
				return true
			}
		}
	}
	return false
}

// regexMatcher is satisfied by *regexp.Regexp; named so evalActiveRegex's
// signature doesn't depend on the regexp package directly.
type regexMatcher interface {
	MatchString(string) bool
}

// evalFileRegex implements FileRegex/Many: directory entries of parent
// across every search root (additional roots, then the primary data path)
// are matched against r, de-duplicating by case-folded file name so that a
// name appearing under more than one root counts once.
func evalFileRegex(s *State, parent string, r regexMatcher, requireMany bool) (bool, error) {
	seen := make(map[string]struct{})
	matchCount := 0

	visitRoot := func(root string) {
		dirPath := filepath.Join(root, parent)
		entries, err := os.ReadDir(dirPath)
		if err != nil {
			// A missing or unreadable directory is not an error: it simply
			// contributes no matches.
			return
		}
		for _, entry := range entries {
			name := normaliseEntryName(s.gameKind, entry.Name())
			key := foldKey(name)
			if _, dup := seen[key]; dup {
				continue
			}
			if r.MatchString(name) {
				seen[key] = struct{}{}
				matchCount++
			}
		}
	}

	for _, root := range s.additionalDataPaths {
		visitRoot(root)
	}
	visitRoot(s.dataPath)

	if requireMany {
		return matchCount > 1, nil
	}
	return matchCount > 0, nil
}

func evalChecksum(s *State, p string, want uint32) (bool, error) {
	resolved := resolvePath(s, p)
	key := foldKey(resolved)

	if crc, ok, err := s.lookupCRC(key); err != nil {
		return false, err
	} else if ok {
		return crc == want, nil
	}

	crc, err := computeCRC32(resolved)
	if err != nil {
		return false, err
	}
	if err := s.storeCRC(key, crc); err != nil {
		return false, err
	}
	return crc == want, nil
}

func computeCRC32(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &IOError{Path: path, Cause: err}
	}
	return crc32.ChecksumIEEE(data), nil
}

// versionReader abstracts version.ReadFileVersion/version.ReadProductVersion
// so evalVersion serves both Version and ProductVersion functions.
type versionReader func(path string) (string, error)

func readFileVersion(path string) (string, error) {
	v, err := version.ReadFileVersion(path)
	return unwrapPEResult(path, v, err)
}

func readProductVersion(path string) (string, error) {
	v, err := version.ReadProductVersion(path)
	return unwrapPEResult(path, v, err)
}

func unwrapPEResult(path, v string, err error) (string, error) {
	if err == nil {
		return v, nil
	}
	if err == version.ErrNotAPE {
		return "", nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "", &IOError{Path: path, Cause: err}
	}
	return "", &PEParsingError{Path: path, Cause: err}
}

func evalVersion(s *State, p, literal string, op ComparisonOperator, read versionReader) (bool, error) {
	var extracted string
	if recorded, ok := s.pluginVersions[foldKey(filepath.Base(p))]; ok {
		// A plugin's own declared version (e.g. from its description field)
		// takes precedence over reading a PE resource, since most plugin
		// files aren't PE binaries at all and could never carry one.
		extracted = recorded
	} else {
		resolved := resolvePath(s, p)
		if pathExists(resolved) {
			v, err := read(resolved)
			if err != nil {
				return false, err
			}
			extracted = v
		}
	}

	parsedExtracted := version.Parse(extracted)
	parsedLiteral := version.Parse(literal)
	return op.evaluate(version.Compare(parsedExtracted, parsedLiteral)), nil
}

func evalReadable(s *State, p string) bool {
	resolved := resolvePath(s, p)
	f, err := os.Open(resolved)
	if err != nil {
		return false
	}
	defer f.Close()
	return true
}
