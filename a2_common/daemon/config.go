/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

package daemon

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Config wraps a single section of the aprs2.net INI configuration file.
// All daemons share one file; each reads its own section ([poller], [dns],
// [nagios]) with its own set of defaults.
type Config struct {
	section *ini.Section
}

// LoadConfig reads the given INI file and returns the named section with
// the supplied defaults applied for keys the file does not set.
func LoadConfig(path, section string, defaults map[string]string) (*Config, error) {
	f, err := ini.LooseLoad(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	sec := f.Section(section)
	for k, v := range defaults {
		if !sec.HasKey(k) {
			sec.Key(k).SetValue(v)
		}
	}

	return &Config{section: sec}, nil
}

// String returns a config value as a string.
func (c *Config) String(key string) string {
	return c.section.Key(key).String()
}

// Int returns a config value as an integer, or 0 if unparseable.
func (c *Config) Int(key string) int {
	v, _ := c.section.Key(key).Int()
	return v
}

// Float returns a config value as a float64, or 0 if unparseable.
func (c *Config) Float(key string) float64 {
	v, _ := c.section.Key(key).Float64()
	return v
}

// Strings splits a space-separated config value into a slice, dropping
// empty elements.
func (c *Config) Strings(key string) []string {
	var out []string

	for _, s := range strings.Split(c.section.Key(key).String(), " ") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
