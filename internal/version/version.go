// Package version reports how the tuplejoin binaries were built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	unknownValue = "unknown"
	shortCommit  = 7
)

// Set at link time with -ldflags "-X".
var (
	Version   = "dev"
	BuildDate = unknownValue
	GitCommit = unknownValue
	GoVersion = runtime.Version()
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string   `json:"version"`
	BuildDate string   `json:"build_date"`
	GitCommit string   `json:"git_commit"`
	GoVersion string   `json:"go_version"`
	Dirty     bool     `json:"dirty"`
	Module    string   `json:"module,omitempty"`
	Deps      []Module `json:"deps,omitempty"`
}

// Module is one dependency compiled into the binary.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Info collects the link-time variables and the module build information
// embedded by the Go toolchain.
func Info() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GoVersion: GoVersion,
		Dirty:     strings.HasSuffix(GitCommit, "-dirty"),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Path
	for _, dep := range bi.Deps {
		info.Deps = append(info.Deps, Module{Path: dep.Path, Version: dep.Version})
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == unknownValue:
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildDate == unknownValue:
			info.BuildDate = s.Value
		case s.Key == "vcs.modified" && s.Value == "true":
			info.Dirty = true
		}
	}
	return info
}

// DependencyVersion returns the version of the named dependency, or "" when
// it was not compiled in.
func (b BuildInfo) DependencyVersion(path string) string {
	for _, dep := range b.Deps {
		if dep.Path == path {
			return dep.Version
		}
	}
	return ""
}

func (b BuildInfo) String() string {
	var sb strings.Builder
	sb.WriteString("tuplejoin\n")
	fmt.Fprintf(&sb, "Version: %s", b.Version)
	if b.Dirty {
		sb.WriteString(" (dirty)")
	}
	sb.WriteString("\n")

	if b.BuildDate != unknownValue {
		fmt.Fprintf(&sb, "Build Date: %s\n", b.BuildDate)
	}
	if b.GitCommit != unknownValue {
		commit := strings.TrimSuffix(b.GitCommit, "-dirty")
		if len(commit) > shortCommit {
			commit = commit[:shortCommit]
		}
		fmt.Fprintf(&sb, "Git Commit: %s\n", commit)
	}
	fmt.Fprintf(&sb, "Go Version: %s\n", b.GoVersion)
	if b.Module != "" {
		fmt.Fprintf(&sb, "Module: %s\n", b.Module)
	}
	return sb.String()
}

// UserAgent identifies this build in HTTP responses.
func UserAgent() string {
	return "tuplejoin/" + Version
}

// IsRelease reports whether Version names a tagged release.
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-")
}
