// Package version exposes the binary's build metadata. Release builds set
// it through ldflags:
//
//	go build -ldflags "-X github.com/gleanerhq/gleaner/internal/version.Version=v0.3.0"
//
// Development builds fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set via ldflags on release builds. Commit and BuildDate left empty are
// recovered from the build info's VCS settings.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// String returns the short form used in logs: the version, plus the
// abbreviated commit when one is known.
func String() string {
	c := commit()
	if c == "" {
		return Version
	}
	dirty := strings.HasSuffix(c, "-dirty")
	c = strings.TrimSuffix(c, "-dirty")
	if len(c) > 12 {
		c = c[:12]
	}
	if dirty {
		c += "-dirty"
	}
	return Version + " (" + c + ")"
}

// Full returns the multi-line form printed by the version command.
func Full() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gleaner %s\n", Version)
	if c := commit(); c != "" {
		fmt.Fprintf(&b, "  commit:  %s\n", c)
	}
	if d := buildDate(); d != "" {
		fmt.Fprintf(&b, "  built:   %s\n", d)
	}
	fmt.Fprintf(&b, "  go:      %s\n", runtime.Version())
	fmt.Fprintf(&b, "  os/arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	return b.String()
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	rev, modified := vcsSetting("vcs.revision"), vcsSetting("vcs.modified")
	if rev == "" {
		return ""
	}
	if modified == "true" {
		return rev + "-dirty"
	}
	return rev
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	return vcsSetting("vcs.time")
}

func vcsSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
