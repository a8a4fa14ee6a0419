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
	"testing"
)

// benchExpressions is a fixed list of representative condition expressions,
// standing in for the original crate's benches/eval.rs fixture list: a mix
// of cheap (file/active) and cache-sensitive (many/checksum) predicates.
var benchExpressions = []string{
	`file("Blank.esm")`,
	`active("Blank.esp")`,
	`not file("missing.esp") and active("Blank.esp")`,
	`many("Blank.*")`,
	`checksum("Blank.esm", DEADBEEF)`,
	`(file("Blank.esm") and active("Blank.esp")) or readable("Blank.esl")`,
}

func newBenchState(b *testing.B) *State {
	b.Helper()
	dataPath := b.TempDir()
	for _, name := range []string{"Blank.esm", "Blank.esp", "Blank2.esp"} {
		if err := os.WriteFile(filepath.Join(dataPath, name), []byte("x"), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	s := NewState(Oblivion, dataPath)
	s.SetActivePlugins([]string{"Blank.esp"})
	return s
}

// BenchmarkExpression_Eval evaluates benchExpressions repeatedly against one
// State, first with a cold condition cache each iteration and then with the
// cache left warm, to show the condition cache's effect the way the
// original crate's benches/eval.rs compares cached vs. uncached evaluation.
func BenchmarkExpression_Eval(b *testing.B) {
	s := newBenchState(b)
	parsed := make([]Expression, len(benchExpressions))
	for i, raw := range benchExpressions {
		expr, err := ParseExpression(raw)
		if err != nil {
			b.Fatal(err)
		}
		parsed[i] = expr
	}

	b.Run("ColdCache", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := s.ClearConditionCache(); err != nil {
				b.Fatal(err)
			}
			for _, expr := range parsed {
				if _, err := expr.Eval(s); err != nil {
					b.Fatal(err)
				}
			}
		}
	})

	b.Run("WarmCache", func(b *testing.B) {
		for _, expr := range parsed {
			if _, err := expr.Eval(s); err != nil {
				b.Fatal(err)
			}
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			for _, expr := range parsed {
				if _, err := expr.Eval(s); err != nil {
					b.Fatal(err)
				}
			}
		}
	})
}
