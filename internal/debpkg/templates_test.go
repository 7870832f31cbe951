package debpkg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderControl(t *testing.T) {
	control, err := RenderControl(Metadata{
		Name:        "wlanpi-kernel",
		Version:     "6.12.1-20250101",
		Arch:        "arm64",
		Maintainer:  "WLAN Pi <support@wlanpi.com>",
		Section:     "kernel",
		Priority:    "optional",
		Description: "WLAN Pi custom kernel",
		Depends:     []string{"raspi-firmware"},
		Conflicts:   []string{"wlanpi-kernel-legacy"},
		Replaces:    []string{"wlanpi-kernel-legacy"},
	})
	require.NoError(t, err)

	assert.Contains(t, control, "Package: wlanpi-kernel\n")
	assert.Contains(t, control, "Version: 6.12.1-20250101\n")
	assert.Contains(t, control, "Architecture: arm64\n")
	assert.Contains(t, control, "Depends: raspi-firmware\n")
	assert.Contains(t, control, "Conflicts: wlanpi-kernel-legacy\n")
	assert.Contains(t, control, "Replaces: wlanpi-kernel-legacy\n")
	assert.True(t, strings.HasSuffix(control, "Description: WLAN Pi custom kernel\n"))
}

func TestRenderControlOmitsEmptyFields(t *testing.T) {
	control, err := RenderControl(Metadata{Name: "wlanpi-kernel", Version: "1", Arch: "arm64"})
	require.NoError(t, err)
	assert.NotContains(t, control, "Depends:")
	assert.NotContains(t, control, "Maintainer:")
	assert.Contains(t, control, "Description: wlanpi-kernel\n")
}

func TestRenderControlJoinsDependencies(t *testing.T) {
	control, err := RenderControl(Metadata{
		Name: "x", Version: "1", Arch: "arm64",
		Depends: []string{"a (>= 1.0)", "b"},
	})
	require.NoError(t, err)
	assert.Contains(t, control, "Depends: a (>= 1.0), b\n")
}

func TestRenderPostinstEmbedsLiteralValues(t *testing.T) {
	script, err := RenderPostinst(PostinstParams{
		FirmwareDir:   "/boot/firmware",
		SourceDir:     "/opt/wlanpi-kernel",
		ImageName:     "wlanpi-kernel8.img",
		KernelVersion: "6.12.1-v8+",
		BootConfig:    "/boot/firmware/config.txt",
		RunDepmod:     true,
	})
	require.NoError(t, err)

	// The script is self-contained: values by literal, not by reference.
	assert.Contains(t, script, `FIRMWARE_DIR="/boot/firmware"`)
	assert.Contains(t, script, `SOURCE_DIR="/opt/wlanpi-kernel"`)
	assert.Contains(t, script, `IMAGE="wlanpi-kernel8.img"`)
	assert.Contains(t, script, `KERNEL_VERSION="6.12.1-v8+"`)
	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "depmod")
	// Replace-or-append contract for the boot config kernel line.
	assert.Contains(t, script, `sed -i "s|^kernel=.*|kernel=$IMAGE|"`)
	assert.Contains(t, script, `echo "kernel=$IMAGE" >> "$BOOT_CONFIG"`)
}

func TestRenderPostinstWithoutDepmod(t *testing.T) {
	script, err := RenderPostinst(PostinstParams{
		FirmwareDir: "/boot/firmware",
		SourceDir:   "/opt/wlanpi-kernel",
		ImageName:   "wlanpi-kernel8.img",
		BootConfig:  "/boot/firmware/config.txt",
	})
	require.NoError(t, err)
	assert.NotContains(t, script, "depmod")
}

func TestRenderHeadersPostinst(t *testing.T) {
	script, err := RenderHeadersPostinst(HeadersPostinstParams{
		KernelVersion: "6.12.1-v8+",
		HeadersDir:    "/usr/src/wlanpi-kernel-headers-6.12.1-v8+",
	})
	require.NoError(t, err)
	assert.Contains(t, script, `ln -sfn "$HEADERS_DIR" "/lib/modules/$KERNEL_VERSION/build"`)
	assert.Contains(t, script, `KERNEL_VERSION="6.12.1-v8+"`)
}
