// Package buildinfo exposes the engine build identifier stamped into every
// replay log. Two builds with different identifiers are never replay
// compatible: any change to tie-break order, cooldown constants, or RNG
// consumption diverges from the recorded input stream.
package buildinfo

import "runtime/debug"

// version may be overridden at link time:
//
//	go build -ldflags "-X airlock/server/buildinfo.version=<rev>"
var version string

// Version reports the identifier of this engine build. It prefers the
// link-time override, falls back to the VCS revision embedded by the Go
// toolchain, and finally to "devel" for local builds without VCS metadata.
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return "devel"
}
