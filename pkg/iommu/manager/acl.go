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

package manager

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gvisor.dev/iommu/pkg/iommu"
)

// Wildcard matches any subject or operation in a Rule.
const Wildcard = "*"

// Rule allows or denies one subject one operation.
type Rule struct {
	// Subject is the caller the rule applies to, or Wildcard.
	Subject string `toml:"subject"`

	// Op is the operation the rule applies to, or Wildcard.
	Op Op `toml:"op"`

	// ASID restricts the rule to one domain. Zero matches every domain.
	ASID iommu.ASID `toml:"asid"`

	// Allow is the decision when the rule matches.
	Allow bool `toml:"allow"`
}

func (r *Rule) matches(subject string, op Op, asid iommu.ASID) bool {
	return (r.Subject == Wildcard || r.Subject == subject) &&
		(r.Op == Wildcard || r.Op == op) &&
		(r.ASID == 0 || r.ASID == asid)
}

// ACL is an ordered access-control list. The first matching rule decides;
// an operation that matches no rule is allowed.
type ACL struct {
	Rules []Rule `toml:"rule"`
}

// Authorize implements Authorizer.Authorize.
func (a *ACL) Authorize(subject string, op Op, asid iommu.ASID) error {
	if a == nil {
		return nil
	}
	for i := range a.Rules {
		r := &a.Rules[i]
		if !r.matches(subject, op, asid) {
			continue
		}
		if r.Allow {
			return nil
		}
		return fmt.Errorf("denied by rule %d", i)
	}
	return nil
}

// Add appends a rule.
func (a *ACL) Add(r Rule) {
	a.Rules = append(a.Rules, r)
}

func (a *ACL) validate() error {
	for i, r := range a.Rules {
		if r.Subject == "" {
			return fmt.Errorf("rule %d: subject must be set (use %q for any)", i, Wildcard)
		}
		if r.Op == "" {
			return fmt.Errorf("rule %d: op must be set (use %q for any)", i, Wildcard)
		}
		if r.Op != Wildcard && !validOp(r.Op) {
			return fmt.Errorf("rule %d: unknown op %q", i, r.Op)
		}
	}
	return nil
}

func validOp(op Op) bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// ParseACL decodes an ACL from TOML:
//
//	[[rule]]
//	subject = "guest"
//	op = "destroy"
//	allow = false
func ParseACL(data string) (*ACL, error) {
	var a ACL
	if _, err := toml.Decode(data, &a); err != nil {
		return nil, fmt.Errorf("decoding ACL: %w", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadACL reads an ACL from a TOML file. See ParseACL for the format.
func LoadACL(path string) (*ACL, error) {
	var a ACL
	if _, err := toml.DecodeFile(path, &a); err != nil {
		return nil, fmt.Errorf("reading ACL %q: %w", path, err)
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("ACL %q: %w", path, err)
	}
	return &a, nil
}
