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

// Package config provides basic infrastructure to set configuration settings
// for iommuctl. Each setting is a command line flag; settings may also be
// read from a TOML file named by --config.
package config

import (
	"fmt"
	"time"

	"github.com/mohae/deepcopy"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
	"gvisor.dev/iommu/pkg/log"
)

// Config holds configuration that is not part of a single command's
// arguments.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// RootDir is the directory holding the domain table and its lock.
	RootDir string `flag:"root"`

	// ConfigFile is a TOML file with flag values. Flags set on the command
	// line take precedence.
	ConfigFile string `flag:"config"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// AlsoLogToStderr allows to send log messages to stderr in addition to
	// the log file.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Subject is the identity commands run as, checked against the ACL.
	Subject string `flag:"subject"`

	// ACLFile is a TOML access-control list. Empty allows everything.
	ACLFile string `flag:"acl"`

	// AuditLog is a file that receives one JSON event per operation.
	AuditLog string `flag:"audit-log"`

	// Store selects the mapping store of new domains.
	Store iommu.StoreKind `flag:"store"`

	// MaxDomains bounds the number of live domains. Zero means no limit
	// beyond the ASID space.
	MaxDomains int `flag:"max-domains"`

	// MaxEntries bounds the mappings of each domain. Zero means unbounded.
	MaxEntries int `flag:"max-entries"`

	// PageAligned rejects addresses and lengths that are not page multiples.
	PageAligned bool `flag:"page-aligned"`

	// RetryTimeout bounds how long --retry operations wait on a busy
	// domain.
	RetryTimeout time.Duration `flag:"retry-timeout"`

	// LockTimeout bounds how long a command waits for the domain table
	// lock held by another iommuctl process.
	LockTimeout time.Duration `flag:"lock-timeout"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be one of: text, json, json-k8s", c.LogFormat)
	}
	if _, err := iommu.NewStore(c.Store); err != nil {
		return fmt.Errorf("invalid store %q: %w", c.Store, err)
	}
	if c.MaxDomains < 0 || c.MaxDomains > manager.MaxASID {
		return fmt.Errorf("max-domains %d must be in [0, %d]", c.MaxDomains, manager.MaxASID)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max-entries %d must not be negative", c.MaxEntries)
	}
	if c.RetryTimeout < 0 {
		return fmt.Errorf("retry-timeout %v must not be negative", c.RetryTimeout)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock-timeout %v must not be negative", c.LockTimeout)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// ManagerConfig returns the manager.Config derived from c. Hooks are left
// for the caller to install.
func (c *Config) ManagerConfig() manager.Config {
	return manager.Config{
		MaxDomains:          c.MaxDomains,
		Store:               c.Store,
		MaxEntriesPerDomain: c.MaxEntries,
		PageAligned:         c.PageAligned,
		RetryTimeout:        c.RetryTimeout,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for name, field := range c.flagFields() {
		log.Infof("\t%s: %s", name, getVal(field))
	}
}
