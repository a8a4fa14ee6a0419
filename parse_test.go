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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWhitespaceBetweenFunctions(t *testing.T) {
	exprs := []string{
		`file("a.esp") and file("b.esp")`,
		`file("a.esp") or file("b.esp")`,
		`not file("a.esp")`,
		`not file("a.esp") and not file("b.esp")`,
		`(file("a.esp") and file("b.esp")) or not file("c.esp")`,
	}
	for _, s := range exprs {
		_, err := ParseExpression(s)
		require.NoError(t, err, s)
	}
}

// Property 4: path rejection, any quoted path that climbs above the
// implicit root via ".." fails with PathOutsideGameDirectory.
func TestPathRejection(t *testing.T) {
	paths := []string{
		`file("../a.esp")`,
		`file("../../a.esp")`,
		`file("sub/../../a.esp")`,
		`active("../a.esp")`,
		`readable("../a.esp")`,
		`checksum("../a.esp", DEADBEEF)`,
		`version("../a.esp", "1.0", ==)`,
	}
	for _, s := range paths {
		_, err := ParseExpression(s)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), s)
		require.Equal(t, KindPathOutsideGameDirectory, pe.Kind, s)
	}
}

func TestPathSingleDotDotIsAllowed(t *testing.T) {
	_, err := ParseExpression(`file("sub/../a.esp")`)
	require.NoError(t, err)
}

func TestRegexPathEndingInSeparatorIsAnError(t *testing.T) {
	_, err := ParseExpression(`many("sub/")`)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindPathEndsInSeparator, pe.Kind)
}

func TestRegexPathDefaultsParentToDot(t *testing.T) {
	expr, err := ParseExpression(`many("Blank.*")`)
	require.NoError(t, err)
	require.Equal(t, `many("Blank.*")`, expr.String())
}

func TestRegexPathSplitsAtLastSlash(t *testing.T) {
	expr, err := ParseExpression(`many("sub/dir/Blank.*")`)
	require.NoError(t, err)
	require.Equal(t, `many("sub/dir/Blank.*")`, expr.String())
}

// Regression: file(...)/active(...) must fall back to the regex-path
// alternative cleanly even when the quoted argument contains an
// invalidPathChars rune (e.g. "*") before its real terminator. A prior bug
// left the cursor mid-token after the failed plain-path attempt, so the
// regex-path re-parse started from the wrong position and mis-split
// parent/pattern.
func TestFileRegexArgumentWithPathCharsBeforeWildcard(t *testing.T) {
	expr, err := ParseExpression(`file("Blank.*")`)
	require.NoError(t, err)
	require.Equal(t, `file("Blank.*")`, expr.String())

	expr, err = ParseExpression(`active("Cargo.*")`)
	require.NoError(t, err)
	require.Equal(t, `active("Cargo.*")`, expr.String())

	expr, err = ParseExpression(`file("sub/dir/Blank.*")`)
	require.NoError(t, err)
	require.Equal(t, `file("sub/dir/Blank.*")`, expr.String())
}

func TestInvalidRegexIsAnError(t *testing.T) {
	_, err := ParseExpression(`many_active("[unterminated")`)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindInvalidRegex, pe.Kind)
}

// "innermost custom error wins": a custom error raised while trying the
// second alternative of an "or"/"and" list is never swallowed by
// backtracking to accept the shorter first alternative as the whole
// expression.
func TestInnermostCustomErrorWins(t *testing.T) {
	_, err := ParseExpression(`file("a.esp") and file("../../b.esp")`)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, KindPathOutsideGameDirectory, pe.Kind)
}

func TestGenericErrorBacktracksInsteadOfFailing(t *testing.T) {
	// "andes" is not the "and" keyword: the failed continuation is
	// backtracked and the whole "andes ..." tail is rejected as unconsumed
	// input.
	_, err := ParseExpression(`file("a.esp") andes file("b.esp")`)
	require.Error(t, err)
	var ue *UnconsumedInputError
	require.True(t, errors.As(err, &ue))
}

func TestComparisonOperatorParsing(t *testing.T) {
	ops := []string{"==", "!=", "<", ">", "<=", ">="}
	for _, op := range ops {
		expr, err := ParseExpression(`version("a.esp", "1.0", ` + op + `)`)
		require.NoError(t, err, op)
		require.Contains(t, expr.String(), op)
	}
}
