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

// Package version implements the free-form version strings that plugin
// metadata condition expressions compare: parsing, a total order that
// behaves like semantic versioning for well-formed input but tolerates the
// vendor quirks real plugin version fields exhibit, and a from-scratch
// reader for the version resource of a Windows PE binary.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/redact"
)

var _ redact.SafeFormatter = Version{}

// identifier is one dot/separator-delimited component of a Version: either
// a base-10 unsigned integer or, if it didn't parse wholly as one, its
// lowercased text.
type identifier struct {
	numeric bool
	num     uint32
	text    string
}

func newIdentifier(token string) identifier {
	if n, err := strconv.ParseUint(strings.TrimSpace(token), 10, 32); err == nil {
		return identifier{numeric: true, num: uint32(n)}
	}
	return identifier{text: strings.ToLower(token)}
}

var zeroIdentifier = identifier{numeric: true, num: 0}

// Version is a totally ordered representation of a version string: a list
// of release identifiers (the "5.0" part) and a list of pre-release
// identifiers (the "-rc.1" part). Versions are ephemeral values, computed
// fresh for each evaluation and never cached.
type Version struct {
	raw           string
	releaseIDs    []identifier
	preReleaseIDs []identifier
}

var specialFormRE = regexp.MustCompile(`\d+, \d+, \d+, \d+`)

// isSeparator reports the runes that split a version string's release part from its
// pre-release part: the first of '-', ' ', ':', or '_' encountered ends the
// release portion.
func isSeparator(r rune) bool {
	return r == '-' || r == ' ' || r == ':' || r == '_'
}

func isPreReleaseSeparator(r rune) bool {
	return r == '.' || isSeparator(r)
}

func trimMetadata(s string) string {
	if s == "" {
		return "0"
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		return s[:i]
	}
	return s
}

func splitVersionString(s string) (release, preRelease string) {
	// "0, 1, 2, 3" forms are used verbatim by a few tools (OBSE, SKSE) to
	// mean "0.1.2.3"; detected before the normal separator split so the
	// commas in it aren't mistaken for a release/pre-release boundary.
	if specialFormRE.MatchString(s) {
		return s, ""
	}

	i := strings.IndexFunc(s, isSeparator)
	if i < 0 {
		return s, ""
	}
	// Every separator is a single-byte ASCII rune, so i+1 is always a valid
	// byte offset into s.
	if i+1 < len(s) {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Parse builds a Version from a free-form version string. Parsing never
// fails: an empty string is treated as "0", and tokens that aren't valid
// unsigned integers become lowercased non-numeric identifiers.
func Parse(s string) Version {
	trimmed := trimMetadata(s)
	release, preRelease := splitVersionString(trimmed)

	v := Version{raw: s}
	for _, tok := range splitKeepEmpty(release, func(r rune) bool { return r == '.' || r == ',' }) {
		v.releaseIDs = append(v.releaseIDs, newIdentifier(tok))
	}

	if preRelease != "" {
		for _, tok := range splitDropTrailingEmpty(preRelease, isPreReleaseSeparator) {
			v.preReleaseIDs = append(v.preReleaseIDs, newIdentifier(tok))
		}
	}

	return v
}

// splitKeepEmpty splits s on every rune matching isSep, the same as
// strings.Split over a rune predicate: unlike strings.FieldsFunc, empty
// tokens (leading, trailing, or from adjacent separators) are preserved.
// This matches Rust's plain str::split, which the original parser uses for
// release tokens.
func splitKeepEmpty(s string, isSep func(rune) bool) []string {
	var tokens []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if isSep(r) {
			tokens = append(tokens, string(runes[start:i]))
			start = i + 1
		}
	}
	tokens = append(tokens, string(runes[start:]))
	return tokens
}

// splitDropTrailingEmpty splits s on every rune matching isSep. Unlike
// strings.FieldsFunc, empty tokens (leading, or from adjacent separators)
// are preserved; only the single final empty token a trailing separator
// produces is dropped — mirroring Rust's split_terminator, which the
// original parser uses for pre-release tokens.
func splitDropTrailingEmpty(s string, isSep func(rune) bool) []string {
	var tokens []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if isSep(r) {
			tokens = append(tokens, string(runes[start:i]))
			start = i + 1
		}
	}
	tokens = append(tokens, string(runes[start:]))
	if len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// String returns the original string Parse was called with.
func (v Version) String() string {
	return redact.StringWithoutMarkers(v)
}

// Raw returns the exact string Parse was called with, unlike String it is
// not routed through the redaction machinery.
func (v Version) Raw() string {
	return v.raw
}

// SafeFormat implements redact.SafeFormatter: version strings never carry
// secrets, only the literal text of a condition expression or a plugin's
// own version field.
func (v Version) SafeFormat(p redact.SafePrinter, _ rune) {
	p.Print(v.raw)
}

// Compare returns -1, 0, or +1 indicating the relative ordering of two
// versions, per spec: release identifiers are compared pairwise after
// padding the shorter list with zeros; ties fall back to comparing
// pre-release identifiers, where the absence of any pre-release identifier
// sorts greater than having some (the semver rule).
func Compare(a, b Version) int {
	if r := compareReleaseLists(a.releaseIDs, b.releaseIDs); r != 0 {
		return r
	}

	if len(a.preReleaseIDs) == 0 && len(b.preReleaseIDs) == 0 {
		return 0
	}
	if len(a.preReleaseIDs) == 0 {
		return 1
	}
	if len(b.preReleaseIDs) == 0 {
		return -1
	}
	return comparePreReleaseLists(a.preReleaseIDs, b.preReleaseIDs)
}

// Equal reports whether a and b compare equal.
func Equal(a, b Version) bool {
	return Compare(a, b) == 0
}

func compareReleaseLists(a, b []identifier) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := zeroIdentifier, zeroIdentifier
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if r := compareReleaseIdentifier(ai, bi); r != 0 {
			return r
		}
	}
	return 0
}

// compareReleaseIdentifier implements spec's release-id comparison,
// including its deliberately asymmetric "mixed" rule: a numeric identifier
// compared against a non-numeric one is decided by the non-numeric string's
// own leading digit run, not by treating non-numeric as unconditionally
// greater.
func compareReleaseIdentifier(a, b identifier) int {
	switch {
	case a.numeric && b.numeric:
		return cmpUint32(a.num, b.num)
	case !a.numeric && !b.numeric:
		return strings.Compare(a.text, b.text)
	case a.numeric:
		return -compareMixed(b, a)
	default:
		return compareMixed(a, b)
	}
}

// compareMixed compares non-numeric identifier n against numeric identifier
// num, returning the sign of (n <=> num).
func compareMixed(n, num identifier) int {
	digits, hasDigits, hasTrailing := leadingDigits(n.text)
	if !hasDigits {
		// The numeric side is less than a non-numeric string with no
		// leading digit run at all.
		return 1
	}
	if digits != num.num {
		return cmpUint32(digits, num.num)
	}
	if hasTrailing {
		// Equal leading digits but the non-numeric side has more after
		// them: non-numeric sorts greater when tied.
		return 1
	}
	return 0
}

func leadingDigits(s string) (value uint32, hasDigits bool, hasTrailing bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false, false
	}
	n, err := strconv.ParseUint(s[:i], 10, 32)
	if err != nil {
		n = uint64(^uint32(0))
	}
	return uint32(n), true, i < len(s)
}

func comparePreReleaseLists(a, b []identifier) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if r := comparePreReleaseIdentifier(a[i], b[i]); r != 0 {
			return r
		}
	}
	return cmpInt(len(a), len(b))
}

// comparePreReleaseIdentifier is simpler than the release-id comparison:
// numeric always sorts below non-numeric, with no leading-digit extraction.
func comparePreReleaseIdentifier(a, b identifier) int {
	if a.numeric != b.numeric {
		if a.numeric {
			return -1
		}
		return 1
	}
	if a.numeric {
		return cmpUint32(a.num, b.num)
	}
	return strings.Compare(a.text, b.text)
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
