// Package version reports the build version of thinkt-browse.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// Version is the current version of the application.
// This can be set at build time using ldflags:
// -ldflags="-X github.com/wethinkt/thinkt-browse/internal/version.Version=v1.0.0"
var Version = ""

// Info holds all version-related metadata.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
	Protocol  string `json:"protocol"` // live channel protocol version
}

// GetInfo returns a structured Info object.
func GetInfo(name string) Info {
	info := Info{
		Name:      name,
		Version:   Get(),
		GoVersion: runtime.Version(),
		Protocol:  transcript.ProtocolVersion,
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" {
				info.Revision = setting.Value
			}
		}
	}

	return info
}

// Get returns the version string, including build info if available.
func Get() string {
	if Version != "" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return fmt.Sprintf("dev-%s", setting.Value[:7])
			}
		}
	}

	return "dev"
}

// String returns a fully formatted version and build summary.
func String(name string) string {
	return fmt.Sprintf("%s version %s (protocol %s)", name, Get(), transcript.ProtocolVersion)
}
