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
	"regexp"
	"strconv"
	"strings"
)

// invalidPathChars are characters rejected from a plain path argument.
// Backslash is included so that a string containing one falls through to
// the regex-path alternative instead of parsing as a plain path.
const invalidPathChars = "\":*?<>|\\"

// invalidRegexPathChars are the much smaller set of characters rejected
// from a regex-path argument (the last path component is a regex, which
// legitimately uses most of invalidPathChars's characters).
const invalidRegexPathChars = "\"<>"

// cursor walks a condition expression left to right. It never panics: every
// production either advances the cursor and returns a value, or returns a
// *ParseError/ErrParsingIncomplete. A failing production may already have
// advanced the cursor; callers that backtrack restore it from their own
// checkpoint.
type cursor struct {
	remain string
}

func newCursor(input string) *cursor {
	return &cursor{remain: input}
}

// ParseExpression parses s as a complete condition expression. An error is
// returned if the grammar rejects s outright, or if a well-formed prefix of
// s is parsed but non-whitespace text remains afterwards.
func ParseExpression(s string) (Expression, error) {
	c := newCursor(s)
	expr, err := c.parseExpression()
	if err != nil {
		return Expression{}, err
	}
	if strings.TrimSpace(c.remain) != "" {
		return Expression{}, &UnconsumedInputError{Tail: c.remain}
	}
	return expr, nil
}

func (c *cursor) fail(kind ParseErrorKind, detail string) *ParseError {
	return &ParseError{Fragment: c.remain, Kind: kind, Detail: detail}
}

func (c *cursor) skipSpace() {
	c.remain = strings.TrimLeft(c.remain, " \t")
}

// consumeTag consumes exactly tag from the front of the cursor (after
// skipping leading whitespace), returning whether it matched. On a
// mismatch the cursor is left unchanged.
func (c *cursor) consumeTag(tag string) bool {
	trimmed := strings.TrimLeft(c.remain, " \t")
	if strings.HasPrefix(trimmed, tag) {
		c.remain = trimmed[len(tag):]
		return true
	}
	return false
}

// peekTag reports whether tag would match at the cursor, without consuming
// leading whitespace or the tag itself.
func (c *cursor) peekTag(tag string) bool {
	return strings.HasPrefix(c.remain, tag)
}

// parseExpression implements: expression ::= compound ("or" compound)*
func (c *cursor) parseExpression() (Expression, error) {
	var compounds []CompoundCondition

	first, err := c.parseCompoundCondition()
	if err != nil {
		return Expression{}, err
	}
	compounds = append(compounds, first)

	for {
		checkpoint := c.remain
		if !c.consumeTag("or") {
			break
		}
		next, err := c.parseCompoundCondition()
		if err != nil {
			if pe, ok := err.(*ParseError); ok && pe.Kind.isCustom() {
				return Expression{}, err
			}
			c.remain = checkpoint
			break
		}
		compounds = append(compounds, next)
	}

	return Expression{compounds: compounds}, nil
}

// parseCompoundCondition implements: compound ::= condition ("and" condition)*
func (c *cursor) parseCompoundCondition() (CompoundCondition, error) {
	var conditions []Condition

	first, err := c.parseCondition()
	if err != nil {
		return CompoundCondition{}, err
	}
	conditions = append(conditions, first)

	for {
		checkpoint := c.remain
		if !c.consumeTag("and") {
			break
		}
		next, err := c.parseCondition()
		if err != nil {
			if pe, ok := err.(*ParseError); ok && pe.Kind.isCustom() {
				return CompoundCondition{}, err
			}
			c.remain = checkpoint
			break
		}
		conditions = append(conditions, next)
	}

	return CompoundCondition{conditions: conditions}, nil
}

// parseCondition implements:
//
//	condition ::= function | "not" function
//	            | "(" expression ")" | "not" "(" expression ")"
//
// Custom errors (regex/CRC/path failures) raised by a chosen alternative are
// never backtracked past: once the parser has committed to, say, the
// parenthesised-expression alternative by consuming "(", a failure inside
// that expression is reported as-is rather than falling through to a less
// specific generic error. This mirrors nom's Failure-vs-Error distinction
// in the original parser.
func (c *cursor) parseCondition() (Condition, error) {
	checkpoint := c.remain

	if c.consumeTag("not") {
		notCheckpoint := c.remain
		if c.consumeTag("(") {
			expr, err := c.parseExpression()
			if err != nil {
				return Condition{}, err
			}
			if !c.consumeTag(")") {
				return Condition{}, c.fail(KindGeneric, `expected ")"`)
			}
			return Condition{kind: condInvertedExpression, expression: &expr}, nil
		}
		c.remain = notCheckpoint

		fn, err := c.parseFunction()
		if err != nil {
			return Condition{}, err
		}
		return Condition{kind: condInvertedFunction, function: fn}, nil
	}
	c.remain = checkpoint

	if c.consumeTag("(") {
		expr, err := c.parseExpression()
		if err != nil {
			return Condition{}, err
		}
		if !c.consumeTag(")") {
			return Condition{}, c.fail(KindGeneric, `expected ")"`)
		}
		return Condition{kind: condExpression, expression: &expr}, nil
	}

	fn, err := c.parseFunction()
	if err != nil {
		return Condition{}, err
	}
	return Condition{kind: condFunction, function: fn}, nil
}

// parseFunction implements the function production: one of the eight
// function names, each "name(args)", which together produce the ten
// Function kinds.
func (c *cursor) parseFunction() (Function, error) {
	c.skipSpace()
	switch {
	case c.peekTag("file("):
		return c.parsePathOrRegexFunction("file(", kindFilePath, kindFileRegex)
	case c.peekTag("active("):
		return c.parsePathOrRegexFunction("active(", kindActivePath, kindActiveRegex)
	case c.peekTag("many_active("):
		return c.parseRegexOnlyFunction("many_active(", kindManyActive)
	case c.peekTag("many("):
		return c.parseRegexPathFunction("many(", kindMany)
	case c.peekTag("checksum("):
		return c.parseChecksumFunction()
	case c.peekTag("product_version("):
		return c.parseVersionFunction("product_version(", kindProductVersion)
	case c.peekTag("version("):
		return c.parseVersionFunction("version(", kindVersion)
	case c.peekTag("readable("):
		return c.parseReadableFunction()
	default:
		return Function{}, c.fail(KindGeneric, "expected a function call")
	}
}

// parsePathOrRegexFunction handles file(...)/active(...), which may hold
// either a plain path (closed by a bare closing quote-paren) or a
// regex-path (closed by just a quote, the parenthesis consumed separately
// below) — the two are disambiguated by whether the quoted content parses
// as a plain path at all.
func (c *cursor) parsePathOrRegexFunction(prefix string, pathKind, regexKind functionKind) (Function, error) {
	c.consumeTag(prefix)
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}

	checkpoint := c.remain
	raw, err := c.takeWhileNot(invalidPathChars)
	if err == nil {
		if c.consumeTag(`"`) && c.consumeTag(")") {
			if !isInGamePath(raw) {
				return Function{}, c.fail(KindPathOutsideGameDirectory, raw)
			}
			if pathKind == kindActivePath {
				return newActivePathFunction(raw), nil
			}
			return newFilePathFunction(raw), nil
		}
	}
	c.remain = checkpoint

	return c.parseRegexPathBody(regexKind)
}

// parseRegexPathFunction handles many(...), which is always a regex-path
// (never a plain path alternative).
func (c *cursor) parseRegexPathFunction(prefix string, kind functionKind) (Function, error) {
	c.consumeTag(prefix)
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	return c.parseRegexPathBody(kind)
}

// parseRegexPathBody parses the shared "parent/regex"")" tail once the
// opening quote has already been consumed, splitting at the last '/' per
// spec.md §4.1.
func (c *cursor) parseRegexPathBody(kind functionKind) (Function, error) {
	raw, err := c.takeWhileNot(invalidRegexPathChars)
	if err != nil {
		return Function{}, err
	}
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	if !c.consumeTag(")") {
		return Function{}, c.fail(KindGeneric, `expected ")"`)
	}

	if strings.HasSuffix(raw, "/") {
		return Function{}, c.fail(KindPathEndsInSeparator, raw)
	}

	parent, pattern := splitRegexPath(raw)
	if !isInGamePath(parent) {
		return Function{}, c.fail(KindPathOutsideGameDirectory, parent)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return Function{}, c.fail(KindInvalidRegex, err.Error())
	}

	switch kind {
	case kindFileRegex:
		return newFileRegexFunction(parent, re), nil
	case kindMany:
		return newManyFunction(parent, re), nil
	default:
		return newActiveRegexFunction(re), nil
	}
}

func splitRegexPath(raw string) (parent, pattern string) {
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return ".", raw
}

// parseRegexOnlyFunction handles many_active(...), whose argument is always
// a bare regex with no path component.
func (c *cursor) parseRegexOnlyFunction(prefix string, kind functionKind) (Function, error) {
	c.consumeTag(prefix)
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	raw, err := c.takeWhileNot(invalidRegexPathChars)
	if err != nil {
		return Function{}, err
	}
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	if !c.consumeTag(")") {
		return Function{}, c.fail(KindGeneric, `expected ")"`)
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return Function{}, c.fail(KindInvalidRegex, err.Error())
	}
	return newManyActiveFunction(re), nil
}

// parseChecksumFunction parses checksum("path", HEXCRC).
func (c *cursor) parseChecksumFunction() (Function, error) {
	c.consumeTag("checksum(")
	path, err := c.parseQuotedPathArg()
	if err != nil {
		return Function{}, err
	}
	c.skipSpaceAroundComma()
	if !c.consumeTag(",") {
		return Function{}, c.fail(KindGeneric, `expected ","`)
	}
	c.skipSpace()

	hexDigits, err := c.takeHexDigits()
	if err != nil {
		return Function{}, err
	}
	crc, perr := strconv.ParseUint(hexDigits, 16, 32)
	if perr != nil {
		return Function{}, c.fail(KindInvalidCRC, perr.Error())
	}
	if !c.consumeTag(")") {
		return Function{}, c.fail(KindGeneric, `expected ")"`)
	}
	return newChecksumFunction(path, uint32(crc)), nil
}

// parseVersionFunction parses version(...)/product_version(...):
// "path", "version", operator.
func (c *cursor) parseVersionFunction(prefix string, kind functionKind) (Function, error) {
	c.consumeTag(prefix)
	path, err := c.parseQuotedPathArg()
	if err != nil {
		return Function{}, err
	}
	c.skipSpaceAroundComma()
	if !c.consumeTag(",") {
		return Function{}, c.fail(KindGeneric, `expected ","`)
	}
	c.skipSpace()

	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	version, err := c.takeWhileNot(`"`)
	if err != nil {
		return Function{}, err
	}
	if !c.consumeTag(`"`) {
		return Function{}, c.fail(KindGeneric, `expected '"'`)
	}
	c.skipSpaceAroundComma()
	if !c.consumeTag(",") {
		return Function{}, c.fail(KindGeneric, `expected ","`)
	}
	c.skipSpace()

	op, err := c.parseComparisonOperator()
	if err != nil {
		return Function{}, err
	}
	if !c.consumeTag(")") {
		return Function{}, c.fail(KindGeneric, `expected ")"`)
	}

	if kind == kindProductVersion {
		return newProductVersionFunction(path, version, op), nil
	}
	return newVersionFunction(path, version, op), nil
}

// parseReadableFunction parses readable("path").
func (c *cursor) parseReadableFunction() (Function, error) {
	c.consumeTag("readable(")
	path, err := c.parseQuotedPathArg()
	if err != nil {
		return Function{}, err
	}
	if !c.consumeTag(")") {
		return Function{}, c.fail(KindGeneric, `expected ")"`)
	}
	return newReadableFunction(path), nil
}

// parseQuotedPathArg parses a `"path"` argument (not a regex-path
// alternative — every caller of this helper only accepts plain paths) and
// validates it stays within the game directory.
func (c *cursor) parseQuotedPathArg() (string, error) {
	if !c.consumeTag(`"`) {
		return "", c.fail(KindGeneric, `expected '"'`)
	}
	raw, err := c.takeWhileNot(invalidPathChars)
	if err != nil {
		return "", err
	}
	if !c.consumeTag(`"`) {
		return "", c.fail(KindGeneric, `expected '"'`)
	}
	if !isInGamePath(raw) {
		return "", c.fail(KindPathOutsideGameDirectory, raw)
	}
	return raw, nil
}

func (c *cursor) parseComparisonOperator() (ComparisonOperator, error) {
	switch {
	case c.consumeTag("=="):
		return OpEqual, nil
	case c.consumeTag("!="):
		return OpNotEqual, nil
	case c.consumeTag("<="):
		return OpLessThanOrEqual, nil
	case c.consumeTag(">="):
		return OpGreaterThanOrEqual, nil
	case c.consumeTag("<"):
		return OpLessThan, nil
	case c.consumeTag(">"):
		return OpGreaterThan, nil
	default:
		return 0, c.fail(KindGeneric, "expected a comparison operator")
	}
}

// skipSpaceAroundComma tolerates whitespace before a "," argument
// separator (the grammar is whitespace-insensitive around commas, per
// spec.md's worked examples).
func (c *cursor) skipSpaceAroundComma() {
	c.skipSpace()
}

// takeWhileNot consumes runes up to (not including) the first rune in cutset
// or the end of input, failing with ErrParsingIncomplete if the cursor was
// already exhausted.
func (c *cursor) takeWhileNot(cutset string) (string, error) {
	if c.remain == "" {
		return "", ErrParsingIncomplete
	}
	i := strings.IndexAny(c.remain, cutset)
	var token string
	if i < 0 {
		token = c.remain
		c.remain = ""
	} else {
		token = c.remain[:i]
		c.remain = c.remain[i:]
	}
	return token, nil
}

// takeHexDigits consumes the longest run of hex digits at the cursor.
func (c *cursor) takeHexDigits() (string, error) {
	i := 0
	for i < len(c.remain) && isHexDigit(c.remain[i]) {
		i++
	}
	if i == 0 {
		return "", c.fail(KindGeneric, "expected a hexadecimal checksum")
	}
	token := c.remain[:i]
	c.remain = c.remain[i:]
	return token, nil
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
