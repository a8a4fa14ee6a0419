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

// Command lootcheck loads a YAML-described game install and evaluates a
// LOOT-style condition expression against it, printing the boolean result.
// It exercises the same condition.State/condition.Expression surface a C
// caller would reach through a cgo export layer, without being one.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lootcond/condition"
	"github.com/lootcond/condition/config"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lootcheck <expression>",
		Short: "Evaluate a LOOT condition expression against a described game install",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML state description (required)")
	if err := root.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return root
}

func runCheck(cmd *cobra.Command, args []string) error {
	expr, err := condition.ParseExpression(args[0])
	if err != nil {
		return errors.Wrapf(err, "parsing expression %q", args[0])
	}

	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	state, err := file.BuildState()
	if err != nil {
		return err
	}

	result, err := expr.Eval(state)
	if err != nil {
		return errors.Wrapf(err, "evaluating expression %q", args[0])
	}

	cmd.Println(result)
	return nil
}
