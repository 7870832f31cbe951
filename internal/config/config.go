package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration for one build invocation.
type Config struct {
	Kernel   KernelConfig   `yaml:"kernel"`
	Build    BuildConfig    `yaml:"build"`
	Packages PackagesConfig `yaml:"packages"`
	Output   OutputConfig   `yaml:"output"`
	History  *HistoryConfig `yaml:"history,omitempty"`
	Metrics  *MetricsConfig `yaml:"metrics,omitempty"`
}

// KernelConfig describes the upstream source tree and its configuration
// inputs.
type KernelConfig struct {
	URL        string      `yaml:"url"`
	Branch     string      `yaml:"branch,omitempty"`
	Auth       *AuthConfig `yaml:"auth,omitempty"`
	Defconfig  string      `yaml:"defconfig"`             // base profile make target, e.g. bcm2711_defconfig
	Fragment   string      `yaml:"fragment"`              // custom override fragment path (required)
	PatchesDir string      `yaml:"patches_dir,omitempty"` // optional directory of *.patch files
}

// AuthConfig represents git transport authentication.
type AuthConfig struct {
	Type     string `yaml:"type"` // "ssh", "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// BuildConfig controls the native kernel build invocation.
type BuildConfig struct {
	Arch         string   `yaml:"arch"`
	CrossCompile string   `yaml:"cross_compile,omitempty"`
	Image        string   `yaml:"image,omitempty"` // make image target, e.g. Image or zImage
	Jobs         int      `yaml:"jobs,omitempty"`  // 0 means one job per CPU
	DTBs         []string `yaml:"dtbs,omitempty"`  // globs relative to the source tree
	Overlays     []string `yaml:"overlays,omitempty"`
	Headers      bool     `yaml:"headers,omitempty"` // export a developer header tree
	Workspace    string   `yaml:"workspace,omitempty"`
	ShallowDepth int      `yaml:"shallow_depth,omitempty"`
	BuildUser    string   `yaml:"build_user,omitempty"`
	BuildHost    string   `yaml:"build_host,omitempty"`
}

// PackagesConfig names the Debian packages to assemble.
type PackagesConfig struct {
	Kernel  PackageConfig  `yaml:"kernel"`
	Headers *PackageConfig `yaml:"headers,omitempty"`
}

// PackageConfig is metadata for one Debian package.
type PackageConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Maintainer  string   `yaml:"maintainer,omitempty"`
	Section     string   `yaml:"section,omitempty"`
	Priority    string   `yaml:"priority,omitempty"`
	Depends     []string `yaml:"depends,omitempty"`
	Conflicts   []string `yaml:"conflicts,omitempty"`
	Replaces    []string `yaml:"replaces,omitempty"`
	Provides    []string `yaml:"provides,omitempty"`
}

// OutputConfig controls artifact placement and the install-time layout
// embedded into the generated maintainer scripts.
type OutputConfig struct {
	Directory   string `yaml:"directory"`
	FirmwareDir string `yaml:"firmware_dir,omitempty"` // target boot firmware dir, e.g. /boot/firmware
	ImageName   string `yaml:"image_name,omitempty"`   // installed image filename, e.g. wlanpi-kernel8.img
	BootConfig  string `yaml:"boot_config,omitempty"`  // boot config file updated at install time
	Bundle      bool   `yaml:"bundle,omitempty"`       // also write a tar.xz artifact bundle
}

// HistoryConfig enables the local build history store.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig enables the Prometheus textfile output.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// Load loads configuration from the specified file. Environment variables
// referenced in the YAML are expanded, and a .env file alongside the
// process is honored without overriding the existing environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Kernel.Branch == "" {
		cfg.Kernel.Branch = "main"
	}
	if cfg.Build.Arch == "" {
		cfg.Build.Arch = "arm64"
	}
	if cfg.Build.Image == "" {
		cfg.Build.Image = "Image"
	}
	if cfg.Build.Workspace == "" {
		cfg.Build.Workspace = "./workspace"
	}
	if cfg.Packages.Kernel.Name == "" {
		cfg.Packages.Kernel.Name = "wlanpi-kernel"
	}
	if cfg.Packages.Headers != nil && cfg.Packages.Headers.Name == "" {
		cfg.Packages.Headers.Name = cfg.Packages.Kernel.Name + "-headers"
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "./output"
	}
	if cfg.Output.FirmwareDir == "" {
		cfg.Output.FirmwareDir = "/boot/firmware"
	}
	if cfg.Output.ImageName == "" {
		cfg.Output.ImageName = "wlanpi-kernel8.img"
	}
	if cfg.Output.BootConfig == "" {
		cfg.Output.BootConfig = "/boot/firmware/config.txt"
	}
}

// DebArch maps the kernel build architecture to the Debian architecture
// string used in package names and control files.
func (c *Config) DebArch() string {
	switch c.Build.Arch {
	case "arm64":
		return "arm64"
	case "arm":
		return "armhf"
	case "x86_64", "x86":
		return "amd64"
	default:
		return c.Build.Arch
	}
}
