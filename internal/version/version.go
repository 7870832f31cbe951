// Package version derives the identifier used to name output archives
// and embedded into generated maintainer scripts.
package version

import (
	"fmt"
	"time"
)

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X github.com/joshschmelzle/wlanpi-kernel/internal/version.Version=v1.2.0".
var Version = "unknown"

// Identifier is the deterministic build version: the release string
// queried from the build system plus the build date. It must only be
// computed after the build completes, since the release string depends
// on the resolved configuration and source revision.
type Identifier struct {
	Release string
	Date    string
}

// New derives an Identifier from a kernel release string and build time.
func New(release string, t time.Time) Identifier {
	return Identifier{Release: release, Date: t.Format("20060102")}
}

// String renders the canonical <release>-<date> form, e.g.
// "6.12.1-20250101".
func (i Identifier) String() string {
	return fmt.Sprintf("%s-%s", i.Release, i.Date)
}
