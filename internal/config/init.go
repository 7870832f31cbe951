package config

import (
	"fmt"
	"os"
)

const sampleConfig = `# kernelbuilder configuration
kernel:
  url: https://github.com/raspberrypi/linux.git
  branch: rpi-6.12.y
  defconfig: bcm2711_defconfig
  fragment: ./configs/wlanpi_defconfig
  patches_dir: ./patches

build:
  arch: arm64
  cross_compile: aarch64-linux-gnu-
  image: Image
  dtbs:
    - arch/arm64/boot/dts/broadcom/*.dtb
  overlays:
    - arch/arm64/boot/dts/overlays/*.dtbo
  headers: true
  workspace: ./workspace

packages:
  kernel:
    name: wlanpi-kernel
    description: WLAN Pi custom kernel image, device trees and modules
    maintainer: WLAN Pi <support@wlanpi.com>
    section: kernel
    priority: optional
  headers:
    name: wlanpi-kernel-headers
    description: WLAN Pi kernel headers for building out-of-tree modules
    section: kernel
    priority: optional

output:
  directory: ./output
  firmware_dir: /boot/firmware
  image_name: wlanpi-kernel8.img
  boot_config: /boot/firmware/config.txt

history:
  path: ./output/builds.db
`

// Init writes a starter configuration to path. Existing files are
// preserved unless force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}
