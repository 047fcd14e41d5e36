// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package flag wraps the standard flag package so that iommuctl packages do
// not import it directly, and adds helpers to read typed flag values.
package flag

import (
	"flag"
	"fmt"
)

type (
	// FlagSet is an alias of flag.FlagSet.
	FlagSet = flag.FlagSet

	// Flag is an alias of flag.Flag.
	Flag = flag.Flag

	// Value is an alias of flag.Value.
	Value = flag.Value

	// Getter is an alias of flag.Getter.
	Getter = flag.Getter

	// ErrorHandling is an alias of flag.ErrorHandling.
	ErrorHandling = flag.ErrorHandling
)

// Error handling modes.
const (
	ContinueOnError = flag.ContinueOnError
	ExitOnError     = flag.ExitOnError
	PanicOnError    = flag.PanicOnError
)

// Functions over the process command line.
var (
	Bool        = flag.Bool
	CommandLine = flag.CommandLine
	Duration    = flag.Duration
	Int         = flag.Int
	Lookup      = flag.Lookup
	NewFlagSet  = flag.NewFlagSet
	Parse       = flag.Parse
	String      = flag.String
	Uint        = flag.Uint
	Var         = flag.Var
)

// Get returns the typed value held by v. All flag values created by the
// standard library implement flag.Getter, as must custom values registered
// through Var.
func Get(v Value) any {
	if g, ok := v.(Getter); ok {
		return g.Get()
	}
	panic(fmt.Sprintf("flag value %T does not implement flag.Getter", v))
}

// IsSet returns true if the flag name was set explicitly on fs.
func IsSet(fs *FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
