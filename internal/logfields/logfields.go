package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyPath       = "path"
	KeyArtifact   = "artifact"
	KeyPackage    = "package"
	KeyVersion    = "version"
	KeyCommand    = "command"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Repository(url string) slog.Attr  { return slog.String(KeyRepo, url) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Artifact(a string) slog.Attr      { return slog.String(KeyArtifact, a) }
func Package(p string) slog.Attr       { return slog.String(KeyPackage, p) }
func Version(v string) slog.Attr       { return slog.String(KeyVersion, v) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
