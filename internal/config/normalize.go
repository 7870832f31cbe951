package config

import (
	"fmt"
	"strings"
)

// NormalizationResult captures adjustments & warnings from normalization pass.
type NormalizationResult struct{ Warnings []string }

// NormalizeConfig canonicalizes enumerated and bounded fields. It mutates
// the provided config in-place and returns a result describing coercions.
// Normalizing an already-normalized config is a no-op.
func NormalizeConfig(c *Config) (*NormalizationResult, error) {
	if c == nil {
		return nil, fmt.Errorf("config nil")
	}
	res := &NormalizationResult{}

	if arch := strings.ToLower(strings.TrimSpace(c.Build.Arch)); arch != c.Build.Arch {
		res.Warnings = append(res.Warnings, warnChanged("build.arch", c.Build.Arch, arch))
		c.Build.Arch = arch
	}
	if c.Build.Jobs < 0 {
		res.Warnings = append(res.Warnings, warnChanged("build.jobs", c.Build.Jobs, 0))
		c.Build.Jobs = 0
	}
	if c.Build.ShallowDepth < 0 {
		res.Warnings = append(res.Warnings, warnChanged("build.shallow_depth", c.Build.ShallowDepth, 0))
		c.Build.ShallowDepth = 0
	}

	if c.Kernel.Auth != nil {
		t := strings.ToLower(strings.TrimSpace(c.Kernel.Auth.Type))
		switch t {
		case "", "none", "ssh", "token", "basic":
			if t != c.Kernel.Auth.Type {
				res.Warnings = append(res.Warnings, warnChanged("kernel.auth.type", c.Kernel.Auth.Type, t))
				c.Kernel.Auth.Type = t
			}
		default:
			return nil, fmt.Errorf("unknown kernel.auth.type %q", c.Kernel.Auth.Type)
		}
	}

	// Defconfig profiles are make targets; accept a bare profile name and
	// canonicalize to the full target.
	if p := strings.TrimSpace(c.Kernel.Defconfig); p != "" && !strings.HasSuffix(p, "_defconfig") && p != "defconfig" {
		full := p + "_defconfig"
		res.Warnings = append(res.Warnings, warnChanged("kernel.defconfig", c.Kernel.Defconfig, full))
		c.Kernel.Defconfig = full
	}

	// A metrics block without a textfile path collects nothing; drop it so
	// the recorder is not populated and then discarded.
	if c.Metrics != nil && strings.TrimSpace(c.Metrics.TextfilePath) == "" {
		res.Warnings = append(res.Warnings, "metrics.textfile_path is empty, disabling metrics")
		c.Metrics = nil
	}

	return res, nil
}

func warnChanged(field string, from, to any) string {
	return fmt.Sprintf("normalized %s from '%v' to '%v'", field, from, to)
}
