// Package version reports the build version of the relaychat binaries.
//
// Release builds set it at link time:
//
//	go build -ldflags "-X github.com/NicolasHaas/relaychat/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/relaychat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/relaychat/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp embedded by the go command is used.
package version

import "runtime/debug"

var (
	tag    = ""        // git tag (e.g. "v0.2.0"), empty if not on a tag
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

func init() {
	if commit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				commit = s.Value[:7]
			} else if s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			date = s.Value
		}
	}
}

// String returns "v0.2.0" on a tag, the short commit otherwise, or "dev".
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	if tag != "" {
		return tag + " (" + commit + ") built " + date
	}
	if commit != "unknown" {
		return commit + " built " + date
	}
	return "dev"
}
