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

// Package plan reads iommuctl plan files.
//
// A plan file is YAML:
//
//	steps:
//	- name: boot
//	  domain: vm0
//	  create: true
//	  owner: vm0
//	  map:
//	  - {iova: 0x100000, pa: 0x40000000, size: 2MiB, perm: rw}
//	- name: teardown
//	  domain: vm0
//	  unmap:
//	  - {iova: 0x100000, size: 2MiB}
//	  destroy: true
//
// Addresses are integers in any base accepted by strconv.ParseUint; sizes
// additionally accept byte quantities such as "4KiB" or "2MB".
package plan

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
	"gvisor.dev/iommu/pkg/hostarch"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

// Addr is an address in a plan file.
type Addr hostarch.Addr

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Addr) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseAddr(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*a = Addr(v)
	return nil
}

// Size is a length in bytes in a plan file.
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseSize(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = Size(v)
	return nil
}

// Perm is a permission string in a plan file, as accepted by
// iommu.ParsePerm.
type Perm iommu.Perm

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Perm) UnmarshalYAML(n *yaml.Node) error {
	v, err := iommu.ParsePerm(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*p = Perm(v)
	return nil
}

// ParseAddr parses an address.
func ParseAddr(s string) (hostarch.Addr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, iommu.ErrInvalidArgument)
	}
	return hostarch.Addr(v), nil
}

// ParseSize parses a length, either an integer or a byte quantity.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, iommu.ErrInvalidArgument)
	}
	return v, nil
}

// Mapping is one mapping in a plan file. Perm defaults to read-write.
type Mapping struct {
	IOVA Addr  `yaml:"iova"`
	PA   Addr  `yaml:"pa"`
	Size Size  `yaml:"size"`
	Perm *Perm `yaml:"perm"`
}

// Entry converts m to an iommu.Entry.
func (m *Mapping) Entry() iommu.Entry {
	perm := iommu.PermRead | iommu.PermWrite
	if m.Perm != nil {
		perm = iommu.Perm(*m.Perm)
	}
	return iommu.Entry{
		IOVA:   hostarch.Addr(m.IOVA),
		PA:     hostarch.Addr(m.PA),
		Length: uint64(m.Size),
		Perm:   perm,
	}
}

// Step is one step in a plan file. See manager.PlanStep.
type Step struct {
	Name    string     `yaml:"name"`
	Domain  string     `yaml:"domain"`
	ASID    iommu.ASID `yaml:"asid"`
	Create  bool       `yaml:"create"`
	Owner   string     `yaml:"owner"`
	Unmap   []Mapping  `yaml:"unmap"`
	Map     []Mapping  `yaml:"map"`
	Atomic  bool       `yaml:"atomic"`
	Destroy bool       `yaml:"destroy"`
}

// File is a parsed plan file.
type File struct {
	Steps []Step `yaml:"steps"`
}

// Parse decodes a plan file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	for i, s := range f.Steps {
		if s.Domain == "" && s.ASID == 0 {
			return nil, fmt.Errorf("step %d (%s): domain or asid must be set", i, s.Name)
		}
	}
	return &f, nil
}

// Load reads and decodes the plan file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Plan converts f to a manager.Plan.
func (f *File) Plan() manager.Plan {
	p := manager.Plan{Steps: make([]manager.PlanStep, 0, len(f.Steps))}
	for _, s := range f.Steps {
		p.Steps = append(p.Steps, manager.PlanStep{
			Name:    s.Name,
			Domain:  s.Domain,
			ASID:    s.ASID,
			Create:  s.Create,
			Owner:   s.Owner,
			Unmap:   entries(s.Unmap),
			Map:     entries(s.Map),
			Atomic:  s.Atomic,
			Destroy: s.Destroy,
		})
	}
	return p
}

func entries(ms []Mapping) []iommu.Entry {
	if len(ms) == 0 {
		return nil
	}
	es := make([]iommu.Entry, len(ms))
	for i := range ms {
		es[i] = ms[i].Entry()
	}
	return es
}

// LoadMappings reads a YAML list of mappings from path, as used by
// "iommuctl bulk-map --file".
func LoadMappings(path string) ([]iommu.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ms []Mapping
	if err := yaml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("%s: decoding mappings: %w", path, err)
	}
	return entries(ms), nil
}

// ParseMapping parses "iova:pa:size[:perm]". A missing perm means
// read-write.
func ParseMapping(s string) (iommu.Entry, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return iommu.Entry{}, fmt.Errorf("mapping %q: want iova:pa:size[:perm]: %w", s, iommu.ErrInvalidArgument)
	}
	iova, err := ParseAddr(parts[0])
	if err != nil {
		return iommu.Entry{}, err
	}
	pa, err := ParseAddr(parts[1])
	if err != nil {
		return iommu.Entry{}, err
	}
	size, err := ParseSize(parts[2])
	if err != nil {
		return iommu.Entry{}, err
	}
	perm := iommu.PermRead | iommu.PermWrite
	if len(parts) == 4 {
		if perm, err = iommu.ParsePerm(parts[3]); err != nil {
			return iommu.Entry{}, err
		}
	}
	return iommu.Entry{IOVA: iova, PA: pa, Length: size, Perm: perm}, nil
}
