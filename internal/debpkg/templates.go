package debpkg

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Metadata is the descriptor rendered into DEBIAN/control.
type Metadata struct {
	Name        string
	Version     string
	Arch        string
	Maintainer  string
	Section     string
	Priority    string
	Description string
	Depends     []string
	Conflicts   []string
	Replaces    []string
	Provides    []string
}

// PostinstParams carries the values embedded by literal into the runtime
// package's install-time script, keeping it self-contained.
type PostinstParams struct {
	FirmwareDir   string
	SourceDir     string // staged payload dir on the target, e.g. /opt/wlanpi-kernel
	ImageName     string
	KernelVersion string
	BootConfig    string
	RunDepmod     bool
}

// HeadersPostinstParams parameterizes the headers package's symlink-fixup
// script.
type HeadersPostinstParams struct {
	KernelVersion string
	HeadersDir    string
}

const controlTemplate = `Package: {{.Name}}
Version: {{.Version}}
Architecture: {{.Arch}}
{{- if .Maintainer}}
Maintainer: {{.Maintainer}}
{{- end}}
{{- if .Section}}
Section: {{.Section}}
{{- end}}
{{- if .Priority}}
Priority: {{.Priority}}
{{- end}}
{{- if .Depends}}
Depends: {{join .Depends}}
{{- end}}
{{- if .Conflicts}}
Conflicts: {{join .Conflicts}}
{{- end}}
{{- if .Replaces}}
Replaces: {{join .Replaces}}
{{- end}}
{{- if .Provides}}
Provides: {{join .Provides}}
{{- end}}
Description: {{.Description}}
`

const postinstTemplate = `#!/bin/sh
set -e

FIRMWARE_DIR="{{.FirmwareDir}}"
SOURCE_DIR="{{.SourceDir}}"
IMAGE="{{.ImageName}}"
KERNEL_VERSION="{{.KernelVersion}}"
BOOT_CONFIG="{{.BootConfig}}"

if [ ! -d "$SOURCE_DIR" ]; then
    echo "staged kernel payload missing: $SOURCE_DIR" >&2
    exit 1
fi

mkdir -p "$FIRMWARE_DIR"
cp "$SOURCE_DIR/$IMAGE" "$FIRMWARE_DIR/$IMAGE"

for dtb in "$SOURCE_DIR"/*.dtb; do
    [ -e "$dtb" ] || continue
    cp "$dtb" "$FIRMWARE_DIR/"
done

if [ -d "$SOURCE_DIR/overlays" ]; then
    mkdir -p "$FIRMWARE_DIR/overlays"
    for overlay in "$SOURCE_DIR"/overlays/*.dtbo; do
        [ -e "$overlay" ] || continue
        cp "$overlay" "$FIRMWARE_DIR/overlays/"
    done
fi
{{- if .RunDepmod}}

if command -v depmod >/dev/null 2>&1; then
    depmod "$KERNEL_VERSION" || true
fi
{{- end}}

if [ -f "$BOOT_CONFIG" ] && grep -q "^kernel=" "$BOOT_CONFIG"; then
    sed -i "s|^kernel=.*|kernel=$IMAGE|" "$BOOT_CONFIG"
else
    echo "kernel=$IMAGE" >> "$BOOT_CONFIG"
fi

exit 0
`

const headersPostinstTemplate = `#!/bin/sh
set -e

KERNEL_VERSION="{{.KernelVersion}}"
HEADERS_DIR="{{.HeadersDir}}"

mkdir -p "/lib/modules/$KERNEL_VERSION"
ln -sfn "$HEADERS_DIR" "/lib/modules/$KERNEL_VERSION/build"

exit 0
`

var templateFuncs = template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}

func render(name, text string, data any) (string, error) {
	tpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// RenderControl renders the package metadata descriptor.
func RenderControl(m Metadata) (string, error) {
	if m.Description == "" {
		m.Description = m.Name
	}
	return render("control", controlTemplate, m)
}

// RenderPostinst renders the runtime package's install-time script.
func RenderPostinst(p PostinstParams) (string, error) {
	return render("postinst", postinstTemplate, p)
}

// RenderHeadersPostinst renders the headers package's symlink-fixup script.
func RenderHeadersPostinst(p HeadersPostinstParams) (string, error) {
	return render("headers postinst", headersPostinstTemplate, p)
}
