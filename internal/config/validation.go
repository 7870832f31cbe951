package config

import (
	"fmt"
	"os"
)

// Validate rejects configurations that cannot produce a build. It runs
// before any destructive action: a missing override fragment or output
// configuration aborts here, not mid-pipeline.
func (c *Config) Validate() error {
	if c.Kernel.URL == "" {
		return fmt.Errorf("kernel.url is required")
	}
	if c.Kernel.Defconfig == "" {
		return fmt.Errorf("kernel.defconfig is required")
	}
	if c.Kernel.Fragment == "" {
		return fmt.Errorf("kernel.fragment is required")
	}
	if _, err := os.Stat(c.Kernel.Fragment); err != nil {
		return fmt.Errorf("custom config fragment not found: %s", c.Kernel.Fragment)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Packages.Kernel.Name == "" {
		return fmt.Errorf("packages.kernel.name is required")
	}
	// A missing patches directory is valid (tolerant-empty), so it is
	// deliberately not checked here.
	return nil
}
