package main

import "runtime/debug"

// version is injected by the release build with -ldflags "-X main.version=v1.2.3".
var version string

// Version is what --version prints.
var Version = resolveVersion(version, debug.ReadBuildInfo)

// resolveVersion prefers the injected version, then the module version of a
// go install build, then the VCS revision stamped into a local build.
func resolveVersion(injected string, readBuildInfo func() (*debug.BuildInfo, bool)) string {
	if injected != "" {
		return injected
	}
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return "dev-" + revision
}
